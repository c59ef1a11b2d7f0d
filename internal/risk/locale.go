package risk

import (
	"strings"

	"golang.org/x/text/language"
)

// Match is the outcome of a locale consistency check.
type Match int

const (
	MatchUnknown Match = iota
	MatchConsistent
	MatchMismatch
)

// Locales maps ISO 3166 country codes to the IANA zones and base languages
// expected for connections originating there.
type Locales struct {
	zones     map[string]map[string]struct{}
	knownZone map[string]struct{}
	languages map[string]map[string]struct{}
}

// NewLocales builds lookup tables. Country codes are upper-cased.
func NewLocales(zones, languages map[string][]string) *Locales {
	l := &Locales{
		zones:     make(map[string]map[string]struct{}, len(zones)),
		knownZone: make(map[string]struct{}),
		languages: make(map[string]map[string]struct{}, len(languages)),
	}
	for cc, list := range zones {
		set := make(map[string]struct{}, len(list))
		for _, z := range list {
			set[z] = struct{}{}
			l.knownZone[z] = struct{}{}
		}
		l.zones[strings.ToUpper(cc)] = set
	}
	for cc, list := range languages {
		set := make(map[string]struct{}, len(list))
		for _, lang := range list {
			set[strings.ToLower(lang)] = struct{}{}
		}
		l.languages[strings.ToUpper(cc)] = set
	}
	return l
}

// TimezoneMatch compares a client IANA zone with the zones of country.
// A zone outside the tables or an unlisted country is unknown.
func (l *Locales) TimezoneMatch(country, zone string) Match {
	country = strings.ToUpper(strings.TrimSpace(country))
	zone = strings.TrimSpace(zone)
	if country == "" || zone == "" {
		return MatchUnknown
	}
	set, ok := l.zones[country]
	if !ok {
		return MatchUnknown
	}
	if _, known := l.knownZone[zone]; !known {
		return MatchUnknown
	}
	if _, ok := set[zone]; ok {
		return MatchConsistent
	}
	return MatchMismatch
}

// LanguageMatch compares the base of a BCP 47 tag (or the first entry of an
// Accept-Language list) with the dominant languages of country.
func (l *Locales) LanguageMatch(country, tag string) Match {
	country = strings.ToUpper(strings.TrimSpace(country))
	base, ok := baseLanguage(tag)
	if country == "" || !ok {
		return MatchUnknown
	}
	set, ok := l.languages[country]
	if !ok {
		return MatchUnknown
	}
	if _, ok := set[base]; ok {
		return MatchConsistent
	}
	return MatchMismatch
}

func baseLanguage(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	var tag language.Tag
	if strings.ContainsAny(raw, ",;") {
		tags, _, err := language.ParseAcceptLanguage(raw)
		if err != nil || len(tags) == 0 {
			return "", false
		}
		tag = tags[0]
	} else {
		t, err := language.Parse(raw)
		if err != nil {
			return "", false
		}
		tag = t
	}
	base, conf := tag.Base()
	if conf != language.Exact {
		return "", false
	}
	return base.String(), true
}

// DefaultLocales returns the built-in country tables.
func DefaultLocales() *Locales {
	return defaultLocales
}

var defaultLocales = NewLocales(countryZones, countryLanguages)

var countryZones = map[string][]string{
	"US": {"America/New_York", "America/Chicago", "America/Denver", "America/Phoenix", "America/Los_Angeles", "America/Anchorage", "America/Detroit", "America/Indiana/Indianapolis", "America/Boise", "Pacific/Honolulu"},
	"CA": {"America/Toronto", "America/Vancouver", "America/Edmonton", "America/Winnipeg", "America/Halifax", "America/St_Johns", "America/Regina"},
	"MX": {"America/Mexico_City", "America/Monterrey", "America/Tijuana", "America/Cancun", "America/Chihuahua"},
	"BR": {"America/Sao_Paulo", "America/Manaus", "America/Fortaleza", "America/Recife", "America/Bahia", "America/Belem"},
	"AR": {"America/Argentina/Buenos_Aires", "America/Argentina/Cordoba"},
	"GB": {"Europe/London"},
	"IE": {"Europe/Dublin"},
	"FR": {"Europe/Paris"},
	"DE": {"Europe/Berlin"},
	"NL": {"Europe/Amsterdam"},
	"BE": {"Europe/Brussels"},
	"CH": {"Europe/Zurich"},
	"AT": {"Europe/Vienna"},
	"ES": {"Europe/Madrid", "Atlantic/Canary"},
	"PT": {"Europe/Lisbon", "Atlantic/Azores"},
	"IT": {"Europe/Rome"},
	"PL": {"Europe/Warsaw"},
	"SE": {"Europe/Stockholm"},
	"NO": {"Europe/Oslo"},
	"FI": {"Europe/Helsinki"},
	"DK": {"Europe/Copenhagen"},
	"UA": {"Europe/Kyiv", "Europe/Kiev"},
	"RU": {"Europe/Moscow", "Europe/Samara", "Asia/Yekaterinburg", "Asia/Novosibirsk", "Asia/Krasnoyarsk", "Asia/Irkutsk", "Asia/Vladivostok"},
	"TR": {"Europe/Istanbul"},
	"KZ": {"Asia/Almaty", "Asia/Aqtobe", "Asia/Qostanay"},
	"AE": {"Asia/Dubai"},
	"IL": {"Asia/Jerusalem"},
	"IN": {"Asia/Kolkata", "Asia/Calcutta"},
	"CN": {"Asia/Shanghai", "Asia/Urumqi"},
	"HK": {"Asia/Hong_Kong"},
	"SG": {"Asia/Singapore"},
	"JP": {"Asia/Tokyo"},
	"KR": {"Asia/Seoul"},
	"ID": {"Asia/Jakarta", "Asia/Makassar", "Asia/Jayapura"},
	"AU": {"Australia/Sydney", "Australia/Melbourne", "Australia/Brisbane", "Australia/Perth", "Australia/Adelaide", "Australia/Darwin", "Australia/Hobart"},
	"NZ": {"Pacific/Auckland"},
	"ZA": {"Africa/Johannesburg"},
	"NG": {"Africa/Lagos"},
	"EG": {"Africa/Cairo"},
}

var countryLanguages = map[string][]string{
	"US": {"en", "es"},
	"CA": {"en", "fr"},
	"MX": {"es"},
	"BR": {"pt"},
	"AR": {"es"},
	"GB": {"en"},
	"IE": {"en", "ga"},
	"FR": {"fr"},
	"DE": {"de"},
	"NL": {"nl"},
	"BE": {"nl", "fr", "de"},
	"CH": {"de", "fr", "it"},
	"AT": {"de"},
	"ES": {"es", "ca"},
	"PT": {"pt"},
	"IT": {"it"},
	"PL": {"pl"},
	"SE": {"sv"},
	"NO": {"nb", "nn", "no"},
	"FI": {"fi", "sv"},
	"DK": {"da"},
	"UA": {"uk", "ru"},
	"RU": {"ru"},
	"TR": {"tr"},
	"KZ": {"kk", "ru"},
	"AE": {"ar", "en"},
	"IL": {"he"},
	"IN": {"hi", "en"},
	"CN": {"zh"},
	"HK": {"zh", "en"},
	"SG": {"en", "zh", "ms"},
	"JP": {"ja"},
	"KR": {"ko"},
	"ID": {"id"},
	"AU": {"en"},
	"NZ": {"en"},
	"ZA": {"en", "af", "zu"},
	"NG": {"en"},
	"EG": {"ar"},
}
