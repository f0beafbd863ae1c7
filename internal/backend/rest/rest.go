// Package rest talks to the hosted authentication and database service over HTTP: the GoTrue auth
// API under /auth/v1 and the PostgREST table API under /rest/v1.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/model"
)

const (
	authPath  = "/auth/v1"
	tablePath = "/rest/v1"

	profilesTable = "profiles"
	contactsTable = "contacts"

	defaultTimeout = 15 * time.Second
)

// Service implements backend.Backend against the hosted service.
type Service struct {
	httpClient *http.Client
	baseURL    string
	anonKey    string
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the client used for all requests. Its transport is reused by the
// authenticated table clients.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.httpClient = c
	}
}

// New creates a Service for the project at baseURL, authenticating as anonymous with anonKey until
// a user signs in.
func New(baseURL, anonKey string, opts ...Option) *Service {
	s := &Service{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type sessionResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	RefreshToken string    `json:"refresh_token"`
	User         *authUser `json:"user"`
}

// signUpResponse is either a session (e-mail confirmation disabled) or the bare user.
type signUpResponse struct {
	sessionResponse
	ID    string `json:"id"`
	Email string `json:"email"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Credentials, error) {
	var res sessionResponse
	err := s.do(ctx, s.httpClient, http.MethodPost, authPath+"/token", url.Values{"grant_type": {"password"}},
		credentialsRequest{Email: strings.TrimSpace(email), Password: password}, nil, &res)
	if err != nil {
		return nil, err
	}
	if res.AccessToken == "" || res.User == nil {
		return nil, &backend.APIError{Status: http.StatusOK, Message: "sign-in response carries no session"}
	}
	return &model.Credentials{
		Identity:    model.Identity{ID: res.User.ID, Email: res.User.Email},
		AccessToken: res.AccessToken,
	}, nil
}

func (s *Service) SignUp(ctx context.Context, email, password string) (*model.Identity, *model.Credentials, error) {
	var res signUpResponse
	err := s.do(ctx, s.httpClient, http.MethodPost, authPath+"/signup", nil,
		credentialsRequest{Email: strings.TrimSpace(email), Password: password}, nil, &res)
	if err != nil {
		return nil, nil, err
	}
	if res.AccessToken != "" && res.User != nil {
		identity := model.Identity{ID: res.User.ID, Email: res.User.Email}
		return &identity, &model.Credentials{Identity: identity, AccessToken: res.AccessToken}, nil
	}
	return &model.Identity{ID: res.ID, Email: res.Email}, nil, nil
}

// Client returns table access that sends token as bearer credential with every request. Without a
// token the anon key is sent instead, which is how the service identifies anonymous callers.
func (s *Service) Client(token string) backend.Tables {
	if token == "" {
		token = s.anonKey
	}
	return &tables{
		service: s,
		httpClient: &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
				Base:   s.httpClient.Transport,
			},
			Timeout: s.httpClient.Timeout,
		},
	}
}

// do sends one request and decodes a successful JSON response into target, if given.
func (s *Service) do(ctx context.Context, client *http.Client, method, path string, query url.Values, body any, header http.Header, target any) error {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", s.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if client == s.httpClient {
		req.Header.Set("Authorization", "Bearer "+s.anonKey)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return errorFromResponse(resp)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorBody covers both error formats: the auth API's and PostgREST's. The auth API sends a
// numeric code, PostgREST a string.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
}

func errorFromResponse(resp *http.Response) error {
	apiErr := &backend.APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Code = firstNonEmpty(body.ErrorCode, stringCode(body.Code), body.Error)
		apiErr.Message = firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.Error)
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	switch {
	case apiErr.Code == "invalid_credentials" || apiErr.Code == "invalid_grant":
		apiErr.Err = backend.ErrInvalidCredentials
	case apiErr.Code == "user_already_exists":
		apiErr.Err = backend.ErrUserExists
	case resp.StatusCode == http.StatusUnauthorized:
		apiErr.Err = backend.ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden || apiErr.Code == "42501":
		apiErr.Err = backend.ErrForbidden
	}
	return apiErr
}

func stringCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// rowID accepts both uuid and bigint primary keys.
type rowID string

func (id *rowID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = rowID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding row id %s: %w", data, err)
	}
	*id = rowID(n.String())
	return nil
}

type contactRow struct {
	ID        rowID     `json:"id"`
	UserID    string    `json:"user_id"`
	FullName  string    `json:"full_name"`
	Phone     *string   `json:"phone"`
	Email     *string   `json:"email"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

func (r contactRow) contact() model.Contact {
	return model.Contact{
		Id:        string(r.ID),
		UserId:    r.UserID,
		FullName:  r.FullName,
		Phone:     r.Phone,
		Email:     r.Email,
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt,
	}
}

type contactInsert struct {
	UserID string `json:"user_id"`
	model.ContactFields
}

type tables struct {
	service    *Service
	httpClient *http.Client
}

func (t *tables) do(ctx context.Context, method, table string, query url.Values, body any, prefer string, target any) error {
	var header http.Header
	if prefer != "" {
		header = http.Header{"Prefer": {prefer}}
	}
	return t.service.do(ctx, t.httpClient, method, tablePath+"/"+table, query, body, header, target)
}

func eq(value string) []string {
	return []string{"eq." + value}
}

func (t *tables) FindProfile(ctx context.Context, id string) (*model.Profile, bool, error) {
	var rows []model.Profile
	q := url.Values{"select": {"id,email"}, "id": eq(id)}
	if err := t.do(ctx, http.MethodGet, profilesTable, q, nil, "", &rows); err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return &rows[0], true, nil
}

func (t *tables) UpsertProfile(ctx context.Context, profile model.Profile) error {
	q := url.Values{"on_conflict": {"id"}}
	return t.do(ctx, http.MethodPost, profilesTable, q, profile, "resolution=ignore-duplicates,return=minimal", nil)
}

func (t *tables) InsertContact(ctx context.Context, userID string, fields model.ContactFields) (*model.Contact, error) {
	var rows []contactRow
	body := contactInsert{UserID: userID, ContactFields: fields}
	if err := t.do(ctx, http.MethodPost, contactsTable, nil, body, "return=representation", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &backend.APIError{Status: http.StatusCreated, Message: "insert returned no row"}
	}
	contact := rows[0].contact()
	return &contact, nil
}

func (t *tables) ListContacts(ctx context.Context, ownerID string) ([]model.Contact, error) {
	var rows []contactRow
	q := url.Values{"select": {"*"}, "user_id": eq(ownerID), "order": {"created_at.desc"}}
	if err := t.do(ctx, http.MethodGet, contactsTable, q, nil, "", &rows); err != nil {
		return nil, err
	}
	contacts := make([]model.Contact, 0, len(rows))
	for _, r := range rows {
		contacts = append(contacts, r.contact())
	}
	return contacts, nil
}

func (t *tables) UpdateContact(ctx context.Context, id string, fields model.ContactFields) error {
	return t.do(ctx, http.MethodPatch, contactsTable, url.Values{"id": eq(id)}, fields, "return=minimal", nil)
}

func (t *tables) DeleteContact(ctx context.Context, id string) error {
	return t.do(ctx, http.MethodDelete, contactsTable, url.Values{"id": eq(id)}, nil, "return=minimal", nil)
}

