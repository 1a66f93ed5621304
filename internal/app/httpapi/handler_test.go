package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	app "github.com/R3E-Network/petition_service/internal/app"
	"github.com/R3E-Network/petition_service/internal/app/content"
	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/domain/user"
	"github.com/R3E-Network/petition_service/internal/app/services/auth"
	"github.com/R3E-Network/petition_service/internal/httputil"
	"github.com/R3E-Network/petition_service/internal/logging"
	"github.com/R3E-Network/petition_service/internal/middleware"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func newTestHandler(t *testing.T, opts Options) http.Handler {
	t.Helper()
	images, err := content.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("content store: %v", err)
	}
	creds, err := auth.NewCredentials("handler-test-secret", time.Hour, 4)
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	application, err := app.New(app.Stores{Content: images}, creds, logging.NewDiscard())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(t.Context()) })
	return NewHandler(application, logging.NewDiscard(), opts)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, APIPrefix+path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(middleware.CredentialHeader, token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func putImage(t *testing.T, h http.Handler, path, contentType string, data []byte, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, APIPrefix+path, bytes.NewReader(data))
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set(middleware.CredentialHeader, token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorBody
	decode(t, rec, &body)
	return body.Error.Code
}

// signUp registers and logs in a user, returning its id and token.
func signUp(t *testing.T, h http.Handler, first string) (int64, string) {
	t.Helper()
	email := strings.ToLower(first) + "@example.com"
	rec := do(t, h, http.MethodPost, "/users/register", map[string]string{
		"firstName": first,
		"lastName":  "Tester",
		"email":     email,
		"password":  "secret-pw",
	}, "")
	expectStatus(t, rec, http.StatusCreated)

	rec = do(t, h, http.MethodPost, "/users/login", map[string]string{"email": email, "password": "secret-pw"}, "")
	expectStatus(t, rec, http.StatusOK)
	var session user.Session
	decode(t, rec, &session)
	if session.Token == "" || session.UserID == 0 {
		t.Fatalf("unexpected session %+v", session)
	}
	return session.UserID, session.Token
}

func petitionBody(title string, costs ...int64) map[string]interface{} {
	tiers := make([]map[string]interface{}, 0, len(costs))
	for i, c := range costs {
		tiers = append(tiers, map[string]interface{}{
			"title":       fmt.Sprintf("Tier %d", i+1),
			"description": "support",
			"cost":        c,
		})
	}
	return map[string]interface{}{
		"title":        title,
		"description":  "A petition about " + title,
		"categoryId":   1,
		"supportTiers": tiers,
	}
}

func createPetition(t *testing.T, h http.Handler, token string, body map[string]interface{}) int64 {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/petitions", body, token)
	expectStatus(t, rec, http.StatusCreated)
	var out struct {
		PetitionID int64 `json:"petitionId"`
	}
	decode(t, rec, &out)
	return out.PetitionID
}

func TestHealthAndUnknownRoute(t *testing.T) {
	h := newTestHandler(t, Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, h, http.MethodGet, "/nothing-here", nil, "")
	expectStatus(t, rec, http.StatusNotFound)
	if code := errorCode(t, rec); code != "NOT_FOUND" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestPetitionLifecycle(t *testing.T) {
	h := newTestHandler(t, Options{})
	_, owner := signUp(t, h, "Olivia")
	_, fan := signUp(t, h, "Frank")

	id := createPetition(t, h, owner, petitionBody("Save the Park", 0, 10, 25))

	rec := do(t, h, http.MethodGet, fmt.Sprintf("/petitions/%d", id), nil, "")
	expectStatus(t, rec, http.StatusOK)
	var detail petition.Detail
	decode(t, rec, &detail)
	if len(detail.SupportTiers) != 3 || detail.SupportTiers[0].Title != "Tier 1" || detail.SupportTiers[2].Cost != 25 {
		t.Fatalf("tiers not returned in order: %+v", detail.SupportTiers)
	}
	if detail.OwnerFirstName != "Olivia" {
		t.Fatalf("unexpected owner name %q", detail.OwnerFirstName)
	}

	// duplicate title
	rec = do(t, h, http.MethodPost, "/petitions", petitionBody("Save the Park", 5), fan)
	expectStatus(t, rec, http.StatusConflict)

	// keeping the own title is allowed
	rec = do(t, h, http.MethodPatch, fmt.Sprintf("/petitions/%d", id), map[string]string{"title": "Save the Park"}, owner)
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, h, http.MethodPatch, fmt.Sprintf("/petitions/%d", id), map[string]string{"description": "hijacked"}, fan)
	expectStatus(t, rec, http.StatusForbidden)

	// pledges
	tierID := detail.SupportTiers[1].ID
	rec = do(t, h, http.MethodPost, fmt.Sprintf("/petitions/%d/supporters", id), map[string]interface{}{"supportTierId": tierID}, owner)
	expectStatus(t, rec, http.StatusForbidden)

	rec = do(t, h, http.MethodPost, fmt.Sprintf("/petitions/%d/supporters", id), map[string]interface{}{"supportTierId": tierID, "message": "go!"}, fan)
	expectStatus(t, rec, http.StatusCreated)
	rec = do(t, h, http.MethodPost, fmt.Sprintf("/petitions/%d/supporters", id), map[string]interface{}{"supportTierId": tierID}, fan)
	expectStatus(t, rec, http.StatusConflict)
	rec = do(t, h, http.MethodPost, fmt.Sprintf("/petitions/%d/supporters", id), map[string]interface{}{"supportTierId": detail.SupportTiers[0].ID, "message": ""}, fan)
	expectStatus(t, rec, http.StatusCreated)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/petitions/%d/supporters", id), nil, "")
	expectStatus(t, rec, http.StatusOK)
	var supporters []petition.Supporter
	decode(t, rec, &supporters)
	if len(supporters) != 2 {
		t.Fatalf("expected 2 supporters, got %d", len(supporters))
	}
	if supporters[0].Message != nil {
		t.Fatalf("empty message should be stored as null, got %q", *supporters[0].Message)
	}

	// tiers with pledges are frozen
	tierPath := fmt.Sprintf("/petitions/%d/supportTiers/%d", id, tierID)
	rec = do(t, h, http.MethodPatch, tierPath, map[string]interface{}{"cost": 12}, owner)
	expectStatus(t, rec, http.StatusConflict)
	rec = do(t, h, http.MethodDelete, tierPath, nil, owner)
	expectStatus(t, rec, http.StatusConflict)

	// the unsupported third tier can still change
	rec = do(t, h, http.MethodPatch, fmt.Sprintf("/petitions/%d/supportTiers/%d", id, detail.SupportTiers[2].ID), map[string]interface{}{"cost": 30}, owner)
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/petitions/%d", id), nil, "")
	decode(t, rec, &detail)
	if detail.NumberOfSupporters != 2 || detail.MoneyRaised != 10 {
		t.Fatalf("unexpected totals: supporters=%d raised=%d", detail.NumberOfSupporters, detail.MoneyRaised)
	}

	rec = do(t, h, http.MethodDelete, fmt.Sprintf("/petitions/%d", id), nil, owner)
	expectStatus(t, rec, http.StatusConflict)
}

func TestTierLimits(t *testing.T) {
	h := newTestHandler(t, Options{})
	_, owner := signUp(t, h, "Olivia")
	id := createPetition(t, h, owner, petitionBody("Bike Lanes", 5))

	rec := do(t, h, http.MethodGet, fmt.Sprintf("/petitions/%d", id), nil, "")
	var detail petition.Detail
	decode(t, rec, &detail)

	rec = do(t, h, http.MethodDelete, fmt.Sprintf("/petitions/%d/supportTiers/%d", id, detail.SupportTiers[0].ID), nil, owner)
	expectStatus(t, rec, http.StatusConflict)

	for i := 0; i < 2; i++ {
		rec = do(t, h, http.MethodPost, fmt.Sprintf("/petitions/%d/supportTiers", id), map[string]interface{}{
			"title": fmt.Sprintf("Extra %d", i), "description": "more", "cost": 1,
		}, owner)
		expectStatus(t, rec, http.StatusCreated)
	}
	rec = do(t, h, http.MethodPost, fmt.Sprintf("/petitions/%d/supportTiers", id), map[string]interface{}{
		"title": "Too many", "description": "more", "cost": 1,
	}, owner)
	expectStatus(t, rec, http.StatusConflict)

	rec = do(t, h, http.MethodDelete, fmt.Sprintf("/petitions/%d/supportTiers/%d", id, detail.SupportTiers[0].ID), nil, owner)
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, h, http.MethodDelete, fmt.Sprintf("/petitions/%d", id), nil, owner)
	expectStatus(t, rec, http.StatusOK)
	rec = do(t, h, http.MethodGet, fmt.Sprintf("/petitions/%d", id), nil, "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestValidationPrecedesAuthentication(t *testing.T) {
	h := newTestHandler(t, Options{})
	_, token := signUp(t, h, "Olivia")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		token  string
		status int
	}{
		{"missing tiers anonymous", http.MethodPost, "/petitions", map[string]interface{}{"title": "x", "description": "y", "categoryId": 1}, "", http.StatusBadRequest},
		{"four tiers", http.MethodPost, "/petitions", petitionBody("Four", 1, 2, 3, 4), token, http.StatusBadRequest},
		{"tier without cost", http.MethodPost, "/petitions", map[string]interface{}{
			"title": "x", "description": "y", "categoryId": 1,
			"supportTiers": []map[string]interface{}{{"title": "t", "description": "d"}},
		}, token, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/petitions", map[string]interface{}{"bogus": true}, token, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/petitions", "{", token, http.StatusBadRequest},
		{"valid body anonymous", http.MethodPost, "/petitions", petitionBody("Anon", 1), "", http.StatusUnauthorized},
		{"valid body bad token", http.MethodPost, "/petitions", petitionBody("Anon", 1), "not-a-token", http.StatusUnauthorized},
		{"unknown category", http.MethodPost, "/petitions", map[string]interface{}{
			"title": "Lost", "description": "y", "categoryId": 999,
			"supportTiers": []map[string]interface{}{{"title": "t", "description": "d", "cost": 0}},
		}, token, http.StatusNotFound},
		{"non numeric id", http.MethodGet, "/petitions/abc", nil, "", http.StatusBadRequest},
		{"logout anonymous", http.MethodPost, "/users/logout", nil, "", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body, tc.token)
			expectStatus(t, rec, tc.status)
		})
	}
}

func TestPatchFieldPresence(t *testing.T) {
	h := newTestHandler(t, Options{})
	_, owner := signUp(t, h, "Olivia")
	id := createPetition(t, h, owner, petitionBody("Clean River", 3))
	path := fmt.Sprintf("/petitions/%d", id)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"empty object", `{}`, http.StatusBadRequest},
		{"null title", `{"title": null}`, http.StatusBadRequest},
		{"empty description", `{"description": ""}`, http.StatusBadRequest},
		{"category as string", `{"categoryId": "2"}`, http.StatusBadRequest},
		{"fractional category", `{"categoryId": 2.5}`, http.StatusBadRequest},
		{"unknown key", `{"owner": 3}`, http.StatusBadRequest},
		{"not an object", `[1,2]`, http.StatusBadRequest},
		{"missing category", `{"categoryId": 404}`, http.StatusNotFound},
		{"category only", `{"categoryId": 2}`, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPatch, path, tc.body, owner)
			expectStatus(t, rec, tc.status)
		})
	}

	rec := do(t, h, http.MethodGet, path, nil, "")
	var detail petition.Detail
	decode(t, rec, &detail)
	if detail.CategoryID != 2 || detail.Title != "Clean River" {
		t.Fatalf("omitted fields should be unchanged: %+v", detail)
	}
}

func TestSearchPagination(t *testing.T) {
	h := newTestHandler(t, Options{})
	_, owner := signUp(t, h, "Olivia")
	for i := 0; i < 5; i++ {
		createPetition(t, h, owner, petitionBody(fmt.Sprintf("Petition %d", i), int64(i*10)))
	}

	seen := map[int64]bool{}
	for start := 0; start < 5; start += 2 {
		rec := do(t, h, http.MethodGet, fmt.Sprintf("/petitions?startIndex=%d&count=2&sortBy=COST_ASC", start), nil, "")
		expectStatus(t, rec, http.StatusOK)
		var page petition.Page
		decode(t, rec, &page)
		if page.Count != 5 {
			t.Fatalf("count should be the filtered total, got %d", page.Count)
		}
		for _, p := range page.Petitions {
			if seen[p.ID] {
				t.Fatalf("petition %d returned twice", p.ID)
			}
			seen[p.ID] = true
		}
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 distinct petitions, got %d", len(seen))
	}

	rec := do(t, h, http.MethodGet, "/petitions?supportingCost=15&categoryIds=1", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var page petition.Page
	decode(t, rec, &page)
	if page.Count != 2 {
		t.Fatalf("expected 2 petitions with a tier costing at most 15, got %d", page.Count)
	}

	rec = do(t, h, http.MethodGet, "/petitions?colour=red", nil, "")
	expectStatus(t, rec, http.StatusBadRequest)
	rec = do(t, h, http.MethodGet, "/petitions?count=-1", nil, "")
	expectStatus(t, rec, http.StatusBadRequest)

	rec = do(t, h, http.MethodGet, "/petitions/categories", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var cats []petition.Category
	decode(t, rec, &cats)
	if len(cats) != len(petition.DefaultCategories()) {
		t.Fatalf("unexpected categories %v", cats)
	}
}

func TestUserAccountFlow(t *testing.T) {
	h := newTestHandler(t, Options{})
	id, token := signUp(t, h, "Uma")
	_, other := signUp(t, h, "Otto")
	path := fmt.Sprintf("/users/%d", id)

	rec := do(t, h, http.MethodPost, "/users/register", map[string]string{
		"firstName": "Uma", "lastName": "Again", "email": "uma@example.com", "password": "secret-pw",
	}, "")
	expectStatus(t, rec, http.StatusConflict)

	rec = do(t, h, http.MethodPost, "/users/login", map[string]string{"email": "uma@example.com", "password": "wrong-pw"}, "")
	expectStatus(t, rec, http.StatusUnauthorized)

	var profile user.Profile
	rec = do(t, h, http.MethodGet, path, nil, token)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &profile)
	if profile.Email != "uma@example.com" {
		t.Fatalf("own profile should include email, got %+v", profile)
	}
	rec = do(t, h, http.MethodGet, path, nil, other)
	decode(t, rec, &profile)
	if profile.Email != "" {
		t.Fatalf("email leaked to another user")
	}

	rec = do(t, h, http.MethodPatch, path, map[string]string{"firstName": "Eve"}, other)
	expectStatus(t, rec, http.StatusForbidden)
	rec = do(t, h, http.MethodPatch, path, map[string]string{"password": "new-secret"}, token)
	expectStatus(t, rec, http.StatusBadRequest)
	rec = do(t, h, http.MethodPatch, path, map[string]string{"password": "new-secret", "currentPassword": "nope-nope"}, token)
	expectStatus(t, rec, http.StatusUnauthorized)
	rec = do(t, h, http.MethodPatch, path, map[string]string{"password": "new-secret", "currentPassword": "secret-pw"}, token)
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, h, http.MethodPost, "/users/logout", nil, token)
	expectStatus(t, rec, http.StatusOK)
	rec = do(t, h, http.MethodPost, "/users/logout", nil, token)
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = do(t, h, http.MethodPost, "/users/login", map[string]string{"email": "uma@example.com", "password": "new-secret"}, "")
	expectStatus(t, rec, http.StatusOK)
}

func TestImages(t *testing.T) {
	h := newTestHandler(t, Options{MaxUploadBytes: 64})
	id, token := signUp(t, h, "Ivy")
	_, other := signUp(t, h, "Otto")
	path := fmt.Sprintf("/users/%d/image", id)

	expectStatus(t, do(t, h, http.MethodGet, path, nil, ""), http.StatusNotFound)
	expectStatus(t, putImage(t, h, path, "text/plain", []byte("hi"), token), http.StatusBadRequest)
	expectStatus(t, putImage(t, h, path, "image/png", pngBytes, ""), http.StatusUnauthorized)
	expectStatus(t, putImage(t, h, path, "image/png", bytes.Repeat([]byte{1}, 65), token), http.StatusBadRequest)
	expectStatus(t, putImage(t, h, path, "image/png", pngBytes, other), http.StatusForbidden)
	expectStatus(t, putImage(t, h, path, "image/png", pngBytes, token), http.StatusCreated)
	expectStatus(t, putImage(t, h, path, "image/gif", []byte("GIF89a"), token), http.StatusOK)

	rec := do(t, h, http.MethodGet, path, nil, "")
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rec.Body.String() != "GIF89a" {
		t.Fatalf("unexpected image bytes %q", rec.Body.String())
	}

	expectStatus(t, do(t, h, http.MethodDelete, path, nil, other), http.StatusForbidden)
	expectStatus(t, do(t, h, http.MethodDelete, path, nil, token), http.StatusOK)
	expectStatus(t, do(t, h, http.MethodDelete, path, nil, token), http.StatusNotFound)

	petitionID := createPetition(t, h, token, petitionBody("Pictures", 1))
	hero := fmt.Sprintf("/petitions/%d/image", petitionID)
	expectStatus(t, putImage(t, h, hero, "image/jpeg", []byte{0xff, 0xd8, 0xff}, other), http.StatusForbidden)
	expectStatus(t, putImage(t, h, hero, "image/jpeg", []byte{0xff, 0xd8, 0xff}, token), http.StatusCreated)
	rec = do(t, h, http.MethodGet, hero, nil, "")
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestRateLimitedAPI(t *testing.T) {
	h := newTestHandler(t, Options{
		Limiter:    middleware.NewRateLimiter(1, 1),
		RateLimit:  1,
		RateWindow: time.Second,
	})

	expectStatus(t, do(t, h, http.MethodGet, "/petitions/categories", nil, ""), http.StatusOK)
	rec := do(t, h, http.MethodGet, "/petitions/categories", nil, "")
	expectStatus(t, rec, http.StatusTooManyRequests)
	if code := errorCode(t, rec); code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("unexpected code %q", code)
	}
}
