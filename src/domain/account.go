package domain

// Account is the subset of an Accounts API account resource this service reads.
type Account struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
	Kind string `json:"kind,omitempty"`
	Name string `json:"name"`
}

// Credential is an Accounts API credential or password resource.
type Credential struct {
	ID          string            `json:"id,omitempty"`
	Type        string            `json:"type,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	PublicValue string            `json:"publicValue"`
	SecretValue string            `json:"secretValue,omitempty"`
	AccountID   string            `json:"accountId"`
	Actions     map[string]string `json:"actions,omitempty"`
}

// ChangeSecretURL returns the action link used to rotate the credential secret.
func (c *Credential) ChangeSecretURL() string {
	if c == nil || c.Actions == nil {
		return ""
	}
	return c.Actions["changesecret"]
}

// Session is the login token returned by the Accounts API token endpoint.
type Session struct {
	JWT string `json:"jwt"`
}

// Setting is an Accounts API settings resource.
type Setting struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Value       string `json:"value"`
	ActiveValue string `json:"activeValue"`
}

// Collection is the list envelope returned by Accounts API collection endpoints.
type Collection[T any] struct {
	Type string `json:"type,omitempty"`
	Data []T    `json:"data"`
}
