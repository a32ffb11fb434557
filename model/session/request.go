package session

import "fmt"

// LaunchRequest carries the inputs for starting a new session. Argument
// construction happens upstream; the request arrives fully assembled.
type LaunchRequest struct {
	ResourcePath  string   `json:"resourcePath"`
	Args          []string `json:"launchArguments,omitempty"`
	WorkDirectory string   `json:"workDirectory,omitempty"`
}

// Validate returns an error describing invalid request fields or nil.
func (r *LaunchRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("launch request was nil")
	}
	if r.ResourcePath == "" {
		return fmt.Errorf("resourcePath cannot be empty")
	}
	return nil
}
