package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/audit"
)

const (
	adminID  = "0b4a7c1e-1111-4a4a-8a8a-000000000001"
	targetID = "0b4a7c1e-2222-4b4b-9b9b-000000000002"
)

type events struct{ seq []string }

type fakeAuthz struct{ err error }

func (f fakeAuthz) RequireAdmin(_ context.Context, c access.Caller) error {
	if !c.Authenticated() {
		return access.ErrUnauthenticated
	}
	return f.err
}

type fakeAuditor struct {
	ev      *events
	entries []audit.Entry
	err     error
}

func (f *fakeAuditor) Record(_ context.Context, e audit.Entry) (audit.Entry, error) {
	f.ev.seq = append(f.ev.seq, "audit")
	if f.err != nil {
		return audit.Entry{}, f.err
	}
	f.entries = append(f.entries, e)
	return e, nil
}

type fakeRepo struct {
	ev   *events
	data map[DataType]any
	err  error
}

func (f *fakeRepo) FetchUserData(_ context.Context, dt DataType, userID string) (any, error) {
	f.ev.seq = append(f.ev.seq, "fetch:"+string(dt)+":"+userID)
	if f.err != nil {
		return nil, f.err
	}
	return f.data[dt], nil
}

func newFixture(authErr, auditErr, repoErr error) (*Gateway, *fakeAuditor, *fakeRepo, *events) {
	ev := &events{}
	aud := &fakeAuditor{ev: ev, err: auditErr}
	repo := &fakeRepo{ev: ev, err: repoErr, data: map[DataType]any{
		DataSettings: json.RawMessage(`{"user_id":"x","theme":"dark","pin_hash":"h","pin_salt":"s","nested":{"totp_secret":"t","ok":1}}`),
		DataSessions: []map[string]any{{"id": "s1", "refresh_token": "r", "ip": "1.2.3.4"}},
		DataTrades:   []any{},
	}}
	return New(fakeAuthz{err: authErr}, aud, repo), aud, repo, ev
}

var admin = access.Caller{UserID: adminID, IP: "10.0.0.1", RequestID: "req-1"}

func TestFetchAuditsBeforeFetch(t *testing.T) {
	g, aud, _, ev := newFixture(nil, nil, nil)

	res, err := g.Fetch(context.Background(), admin, Request{TargetUserID: targetID, DataType: "trades", Action: "read"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.DataType != DataTrades || res.TargetUserID != targetID {
		t.Fatalf("unexpected result %+v", res)
	}
	want := []string{"audit", "fetch:trades:" + targetID}
	if len(ev.seq) != 2 || ev.seq[0] != want[0] || ev.seq[1] != want[1] {
		t.Fatalf("expected audit then fetch, got %v", ev.seq)
	}
	if len(aud.entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(aud.entries))
	}
	e := aud.entries[0]
	if e.Action != "view_trades" || e.AdminID != adminID || e.TargetUserID != targetID || e.IP != "10.0.0.1" {
		t.Fatalf("unexpected audit entry %+v", e)
	}
}

func TestFetchRejectsNonReadWithoutAudit(t *testing.T) {
	for _, action := range []string{"write", "delete", "READ", ""} {
		g, aud, _, ev := newFixture(nil, nil, nil)
		_, err := g.Fetch(context.Background(), admin, Request{TargetUserID: targetID, DataType: "profile", Action: action})
		if !errors.Is(err, access.ErrForbidden) {
			t.Fatalf("action %q: expected ErrForbidden, got %v", action, err)
		}
		if len(aud.entries) != 0 || len(ev.seq) != 0 {
			t.Fatalf("action %q: nothing may be audited or fetched, got %v", action, ev.seq)
		}
	}
}

func TestFetchPreconditionOrder(t *testing.T) {
	cases := []struct {
		name    string
		caller  access.Caller
		authErr error
		req     Request
		want    error
	}{
		{"anonymous", access.Caller{}, nil, Request{TargetUserID: "bad", DataType: "nope", Action: "write"}, access.ErrUnauthenticated},
		{"not admin", admin, access.ErrForbidden, Request{TargetUserID: "bad", DataType: "nope", Action: "write"}, access.ErrForbidden},
		{"bad target", admin, nil, Request{TargetUserID: "user-1", DataType: "trades", Action: "write"}, access.ErrValidation},
		{"bad data type", admin, nil, Request{TargetUserID: targetID, DataType: "passwords", Action: "write"}, access.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, aud, _, ev := newFixture(tc.authErr, nil, nil)
			_, err := g.Fetch(context.Background(), tc.caller, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(aud.entries) != 0 || len(ev.seq) != 0 {
				t.Fatalf("denied call must not audit or fetch, got %v", ev.seq)
			}
		})
	}
}

func TestFetchAuditFailureStopsFetch(t *testing.T) {
	g, _, _, ev := newFixture(nil, errors.New("disk full"), nil)
	_, err := g.Fetch(context.Background(), admin, Request{TargetUserID: targetID, DataType: "settings", Action: "read"})
	if !errors.Is(err, access.ErrAuditFailure) {
		t.Fatalf("expected ErrAuditFailure, got %v", err)
	}
	if len(ev.seq) != 1 || ev.seq[0] != "audit" {
		t.Fatalf("fetch must not run after audit failure, got %v", ev.seq)
	}
}

func TestFetchNotFound(t *testing.T) {
	g, aud, _, _ := newFixture(nil, nil, access.ErrNotFound)
	_, err := g.Fetch(context.Background(), admin, Request{TargetUserID: targetID, DataType: "profile", Action: "read"})
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(aud.entries) != 1 {
		t.Fatal("audited access must stay recorded even when nothing is found")
	}
}

func TestFetchRedactsSettings(t *testing.T) {
	g, _, _, _ := newFixture(nil, nil, nil)
	res, err := g.Fetch(context.Background(), admin, Request{TargetUserID: targetID, DataType: "settings", Action: "read"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	m, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected payload type %T", res.Data)
	}
	for _, k := range []string{"pin_hash", "pin_salt"} {
		if _, present := m[k]; present {
			t.Fatalf("%s leaked in settings payload", k)
		}
	}
	nested := m["nested"].(map[string]any)
	if _, present := nested["totp_secret"]; present {
		t.Fatal("nested totp_secret leaked")
	}
	if m["theme"] != "dark" || nested["ok"] != json.Number("1") {
		t.Fatalf("non-sensitive fields must survive, got %v", m)
	}
}

func TestRedactSessionsList(t *testing.T) {
	out := Redact(DataSessions, []map[string]any{{"id": "s1", "refresh_token": "r", "password_hash": "p"}})
	list := out.([]any)
	row := list[0].(map[string]any)
	if _, ok := row["refresh_token"]; ok {
		t.Fatal("refresh_token leaked")
	}
	if _, ok := row["password_hash"]; ok {
		t.Fatal("global denylist not applied")
	}
	if row["id"] != "s1" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestRedactUnparseableFailsClosed(t *testing.T) {
	if got := Redact(DataSettings, json.RawMessage(`{"pin_hash":`)); got != nil {
		t.Fatalf("expected nil for malformed payload, got %v", got)
	}
}

func TestRedactKeepsNumericPrecision(t *testing.T) {
	raw := json.RawMessage(`[{"id":9007199254740993,"quantity":12345678901.12345678,"price":"0.00000001"}]`)
	out, err := json.Marshal(Redact(DataTrades, raw))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[{"id":9007199254740993,"price":"0.00000001","quantity":12345678901.12345678}]`
	if string(out) != want {
		t.Fatalf("precision lost:\n got %s\nwant %s", out, want)
	}
}

func TestRedactMatchesKeyVariants(t *testing.T) {
	type settings struct {
		Theme   string `json:"theme"`
		PinHash string `json:"pinHash"`
		PinSalt string `json:"pinSalt"`
	}
	out := Redact(DataSettings, settings{Theme: "dark", PinHash: "h", PinSalt: "s"}).(map[string]any)
	if _, ok := out["pinHash"]; ok {
		t.Fatal("camelCase pinHash leaked")
	}
	if _, ok := out["pinSalt"]; ok {
		t.Fatal("camelCase pinSalt leaked")
	}
	if out["theme"] != "dark" {
		t.Fatalf("unexpected payload %v", out)
	}

	upper := Redact(DataSettings, map[string]any{"PIN_HASH": "h", "TotpSecret": "t", "id": 1}).(map[string]any)
	if len(upper) != 1 {
		t.Fatalf("expected only id to survive, got %v", upper)
	}
}
