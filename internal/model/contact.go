// internal/model/contact.go
package model

import "strings"

// Contact is one row of a campaign cohort. Anything beyond name and email
// lives in Attributes and is always looked up with a presence check.
type Contact struct {
	Name       string            `json:"name"`
	Email      string            `json:"email"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Lookup returns the value for key. name and email resolve to the fixed
// fields; empty values count as absent.
func (c Contact) Lookup(key string) (string, bool) {
	var v string
	switch key {
	case "name":
		v = c.Name
	case "email":
		v = c.Email
	default:
		var ok bool
		v, ok = c.Attributes[key]
		if !ok {
			return "", false
		}
	}
	if strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// TemplateData flattens the contact into the attribute map used for
// rendering. Empty values are omitted so their placeholders stay visible.
func (c Contact) TemplateData() map[string]string {
	data := make(map[string]string, len(c.Attributes)+2)
	for k, v := range c.Attributes {
		if strings.TrimSpace(v) != "" {
			data[k] = v
		}
	}
	if v, ok := c.Lookup("name"); ok {
		data["name"] = v
	}
	if v, ok := c.Lookup("email"); ok {
		data["email"] = v
	}
	return data
}

// NormalizedEmail is the key used for cohort uniqueness and send results.
func (c Contact) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(c.Email))
}

func (c Contact) Clone() Contact {
	out := c
	if c.Attributes != nil {
		out.Attributes = make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}
