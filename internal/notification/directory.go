package notification

import (
	"context"
	"strings"

	"github.com/stanstork/herald/internal/config"
	"github.com/stanstork/herald/internal/models"
)

// Contact is where email and SMS deliveries for a recipient go.
type Contact struct {
	Email string
	Phone string
}

// Directory resolves a recipient to its contact addresses.
type Directory interface {
	Lookup(ctx context.Context, recipient models.Recipient) ([]Contact, error)
}

// StaticDirectory serves contacts from configuration. Users and roles
// without an entry resolve to the fallback contact.
type StaticDirectory struct {
	users    map[string]Contact
	roles    map[string][]Contact
	fallback Contact
}

func NewStaticDirectory(cfg config.ContactsConfig) *StaticDirectory {
	d := &StaticDirectory{
		users:    make(map[string]Contact, len(cfg.Users)),
		roles:    make(map[string][]Contact, len(cfg.Roles)),
		fallback: Contact(cfg.Fallback),
	}
	for id, c := range cfg.Users {
		d.users[strings.TrimSpace(id)] = Contact(c)
	}
	for role, contacts := range cfg.Roles {
		role = strings.ToLower(strings.TrimSpace(role))
		for _, c := range contacts {
			d.roles[role] = append(d.roles[role], Contact(c))
		}
	}
	return d
}

func (d *StaticDirectory) Lookup(_ context.Context, recipient models.Recipient) ([]Contact, error) {
	var contacts []Contact
	switch recipient.Type {
	case models.RecipientUser:
		if c, ok := d.users[recipient.ID]; ok {
			contacts = append(contacts, c)
		}
	case models.RecipientRole:
		contacts = append(contacts, d.roles[strings.ToLower(recipient.Value)]...)
	case models.RecipientAll:
		for _, c := range d.users {
			contacts = append(contacts, c)
		}
		for _, members := range d.roles {
			contacts = append(contacts, members...)
		}
	}

	if len(contacts) == 0 && d.fallback != (Contact{}) {
		contacts = append(contacts, d.fallback)
	}
	return contacts, nil
}
