package api

import (
	"fmt"
	"strings"
)

// Key identifies an intent. Names are unique within an application.
type Key struct {
	AppID string `json:"app" yaml:"app"`
	Name  string `json:"name" yaml:"name"`
}

// NewKey returns the key of intent name owned by application appID.
func NewKey(appID, name string) Key {
	return Key{AppID: appID, Name: name}
}

func (k Key) String() string {
	return k.AppID + "/" + k.Name
}

// ParseKey parses a key in the "app/name" form returned by String.
func ParseKey(s string) (Key, error) {
	i := strings.Index(s, "/")
	if i <= 0 || i == len(s)-1 {
		return Key{}, fmt.Errorf("invalid intent key %q", s)
	}
	return Key{AppID: s[:i], Name: s[i+1:]}, nil
}
