package notify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Contact struct {
	Name   string `yaml:"name" json:"name"`
	Email  string `yaml:"email" json:"email,omitempty"`
	Phone  string `yaml:"phone" json:"phone,omitempty"`
	UserID string `yaml:"userId" json:"userId,omitempty"`
}

// Address returns the contact's address for a channel.
func (c Contact) Address(ch ChannelType) (string, bool) {
	var addr string
	switch ch {
	case ChannelEmail:
		addr = c.Email
	case ChannelSMS, ChannelPhoneCall:
		addr = c.Phone
	case ChannelPush:
		addr = c.UserID
	}
	return addr, addr != ""
}

// Directory resolves care roles to contacts.
type Directory struct {
	Roles map[string][]Contact `yaml:"roles"`
}

func LoadDirectory(path string) (*Directory, error) {
	if path == "" {
		return &Directory{Roles: map[string][]Contact{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipients: %w", err)
	}
	var dir Directory
	if err := yaml.Unmarshal(data, &dir); err != nil {
		return nil, fmt.Errorf("parse recipients: %w", err)
	}
	if dir.Roles == nil {
		dir.Roles = map[string][]Contact{}
	}
	return &dir, nil
}

func (d *Directory) Contacts(role string) []Contact {
	if d == nil {
		return nil
	}
	return d.Roles[role]
}
