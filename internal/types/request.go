package types

// GlobalFlags holds the persistent command-line flags
type GlobalFlags struct {
	Profile      string
	OutputFormat OutputFormat
	Quiet        bool
	Verbose      bool
	Debug        bool
	Config       string
	LogFile      string
	JSON         bool
}

// RequestType classifies a remote call for logging and error context
type RequestType string

const (
	RequestTypeMetadata RequestType = "metadata"
	RequestTypeList     RequestType = "list"
	RequestTypeUpload   RequestType = "upload"
	RequestTypeDownload RequestType = "download"
	RequestTypeMutation RequestType = "mutation"
	RequestTypeAccount  RequestType = "account"
)

// RequestContext carries correlation data for one remote operation
type RequestContext struct {
	Profile     string
	Path        string
	RequestType RequestType
	TraceID     string
}

// AuthType identifies how the stored credential was obtained
type AuthType string

const (
	AuthTypeToken   AuthType = "token"
	AuthTypeRefresh AuthType = "refresh"
)

// Credentials is the in-memory credential set for one profile
type Credentials struct {
	AccessToken  string
	RefreshToken string
	AppKey       string
	AppSecret    string
	Passphrase   string
	Type         AuthType
}

// StoredCredentials is the persisted form of Credentials
type StoredCredentials struct {
	Profile      string   `json:"profile"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	AppKey       string   `json:"app_key,omitempty"`
	AppSecret    string   `json:"app_secret,omitempty"`
	Passphrase   string   `json:"passphrase,omitempty"`
	Type         AuthType `json:"type"`
}
