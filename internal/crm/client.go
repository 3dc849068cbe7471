// Package crm syncs completed intakes into a GoHighLevel location: the contact
// is upserted by email, mapped answers land in custom fields, tags are applied
// and an optional workflow is triggered.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// API defaults.
const (
	DefaultBaseURL = "https://rest.gohighlevel.com/v1"
	APIVersion     = "2021-07-28"
	DefaultTimeout = 30 * time.Second
	// agencyKeyLength is the length above which an API key is treated as an
	// agency key that needs an explicit locationId header.
	agencyKeyLength = 200
)

// Error variables for CRM operations.
var (
	ErrAPIKeyNotSet  = errors.New("CRM API key not set")
	ErrMissingEmail  = errors.New("intake has no email address")
	ErrMissingID     = errors.New("CRM response carried no id")
	ErrEmptyFieldKey = errors.New("custom field name is empty")
)

// APIError reports a non-2xx CRM response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("CRM %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Opts holds configuration for the CRM client.
type Opts struct {
	APIKey     string
	LocationID string
	BaseURL    string
	HTTPClient *http.Client
}

// Option configures the CRM client.
type Option func(*Opts)

// WithAPIKey sets the location or agency API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithLocationID sets the location (sub-account) ID.
func WithLocationID(id string) Option {
	return func(o *Opts) { o.LocationID = id }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// CustomFieldValue is one custom field entry on a contact.
type CustomFieldValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Contact is the contact body sent on create and update.
type Contact struct {
	Email        string             `json:"email"`
	FirstName    string             `json:"firstName,omitempty"`
	LastName     string             `json:"lastName,omitempty"`
	Phone        string             `json:"phone,omitempty"`
	Source       string             `json:"source,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
	CustomFields []CustomFieldValue `json:"customField,omitempty"`
}

// Client talks to the GoHighLevel REST API.
type Client struct {
	apiKey     string
	locationID string
	baseURL    string
	http       *http.Client

	fieldsMu sync.Mutex
	fields   map[string]string // lowercase name -> id
}

// NewClient creates a CRM client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{BaseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		apiKey:     cfg.APIKey,
		locationID: cfg.LocationID,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       cfg.HTTPClient,
	}, nil
}

// CustomFields returns the location's custom fields keyed by lowercase name.
// The result is cached for the life of the client.
func (c *Client) CustomFields(ctx context.Context) (map[string]string, error) {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	if err := c.loadFieldsLocked(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(c.fields))
	for k, v := range c.fields {
		out[k] = v
	}
	return out, nil
}

func (c *Client) loadFieldsLocked(ctx context.Context) error {
	if c.fields != nil {
		return nil
	}
	var resp struct {
		CustomFields []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"customFields"`
	}
	if err := c.do(ctx, http.MethodGet, "/custom-fields/", nil, nil, &resp); err != nil {
		return fmt.Errorf("list custom fields: %w", err)
	}
	fields := make(map[string]string, len(resp.CustomFields))
	for _, f := range resp.CustomFields {
		fields[strings.ToLower(strings.TrimSpace(f.Name))] = f.ID
	}
	c.fields = fields
	slog.Debug("Client.CustomFields: loaded", "count", len(fields))
	return nil
}

// EnsureCustomField returns the ID of the named custom field, creating it with
// dataType when the location does not have it yet.
func (c *Client) EnsureCustomField(ctx context.Context, name, dataType string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyFieldKey
	}
	if dataType == "" {
		dataType = "TEXT"
	}
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	if err := c.loadFieldsLocked(ctx); err != nil {
		return "", err
	}
	key := strings.ToLower(name)
	if id, ok := c.fields[key]; ok {
		return id, nil
	}

	var resp struct {
		CustomField struct {
			ID string `json:"id"`
		} `json:"customField"`
	}
	body := map[string]string{"name": name, "dataType": dataType}
	if err := c.do(ctx, http.MethodPost, "/custom-fields/", nil, body, &resp); err != nil {
		return "", fmt.Errorf("create custom field %q: %w", name, err)
	}
	if resp.CustomField.ID == "" {
		return "", fmt.Errorf("create custom field %q: %w", name, ErrMissingID)
	}
	c.fields[key] = resp.CustomField.ID
	slog.Info("Client.EnsureCustomField: created", "name", name, "dataType", dataType, "id", resp.CustomField.ID)
	return resp.CustomField.ID, nil
}

// UpsertContact updates the contact with the same email, or creates one, and returns its ID.
func (c *Client) UpsertContact(ctx context.Context, contact Contact) (string, error) {
	if strings.TrimSpace(contact.Email) == "" {
		return "", ErrMissingEmail
	}
	var search struct {
		Contacts []struct {
			ID string `json:"id"`
		} `json:"contacts"`
	}
	if err := c.do(ctx, http.MethodGet, "/contacts/", url.Values{"email": {contact.Email}}, nil, &search); err != nil {
		return "", fmt.Errorf("search contact: %w", err)
	}

	var resp struct {
		Contact struct {
			ID string `json:"id"`
		} `json:"contact"`
	}
	if len(search.Contacts) > 0 && search.Contacts[0].ID != "" {
		id := search.Contacts[0].ID
		if err := c.do(ctx, http.MethodPut, "/contacts/"+url.PathEscape(id), nil, contact, &resp); err != nil {
			return "", fmt.Errorf("update contact %s: %w", id, err)
		}
		slog.Info("Client.UpsertContact: updated", "contactID", id)
		return id, nil
	}

	if err := c.do(ctx, http.MethodPost, "/contacts/", nil, contact, &resp); err != nil {
		return "", fmt.Errorf("create contact: %w", err)
	}
	if resp.Contact.ID == "" {
		return "", fmt.Errorf("create contact: %w", ErrMissingID)
	}
	slog.Info("Client.UpsertContact: created", "contactID", resp.Contact.ID)
	return resp.Contact.ID, nil
}

// AddTags applies tags to a contact.
func (c *Client) AddTags(ctx context.Context, contactID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	body := map[string][]string{"tags": tags}
	if err := c.do(ctx, http.MethodPost, "/contacts/"+url.PathEscape(contactID)+"/tags", nil, body, nil); err != nil {
		return fmt.Errorf("add tags to %s: %w", contactID, err)
	}
	return nil
}

// TriggerWorkflow subscribes a contact to a workflow.
func (c *Client) TriggerWorkflow(ctx context.Context, workflowID, contactID string) error {
	body := map[string]string{"contactId": contactID}
	if err := c.do(ctx, http.MethodPost, "/workflows/"+url.PathEscape(workflowID)+"/subscribers", nil, body, nil); err != nil {
		return fmt.Errorf("trigger workflow %s: %w", workflowID, err)
	}
	slog.Info("Client.TriggerWorkflow: contact subscribed", "workflowID", workflowID, "contactID", contactID)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Version", APIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.locationID != "" && len(c.apiKey) > agencyKeyLength {
		req.Header.Set("locationId", c.locationID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}
