package storage

import (
	"errors"
	"fmt"

	"smsrelay/models"
)

// InsertContact stores a new contact. An existing id yields ErrDuplicate.
func (s *Store) InsertContact(c models.Contact) error {
	if c.ID == 0 {
		return errors.New("contact id is required")
	}
	if c.PhoneNumber == "" {
		return errors.New("phone_number is required")
	}

	_, err := s.q.Exec(
		`INSERT INTO contacts (
			id, phone_number, id_matcher, name, contact_type,
			color, color_dark, color_light, color_accent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.PhoneNumber,
		c.IDMatcher,
		c.Name,
		c.Type,
		c.Colors.Color,
		c.Colors.ColorDark,
		c.Colors.ColorLight,
		c.Colors.ColorAccent,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert contact %d: %w", c.ID, err)
	}
	return nil
}

// InsertContacts stores a page of contacts, skipping ids already present.
func (s *Store) InsertContacts(contacts []models.Contact) (int, error) {
	inserted := 0
	for _, c := range contacts {
		err := s.InsertContact(c)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// UpdateContactByPhone renames and recolors every contact entry for a phone number.
func (s *Store) UpdateContactByPhone(phoneNumber, name string, colors models.ColorSet) error {
	result, err := s.q.Exec(
		`UPDATE contacts SET name = ?, color = ?, color_dark = ?, color_light = ?, color_accent = ?
		WHERE phone_number = ?`,
		name,
		colors.Color,
		colors.ColorDark,
		colors.ColorLight,
		colors.ColorAccent,
		phoneNumber,
	)
	if err != nil {
		return fmt.Errorf("update contact %q: %w", phoneNumber, err)
	}
	return requireAffected(result)
}

// DeleteContactsByPhone removes every contact whose phone number appears in phoneNumbers.
func (s *Store) DeleteContactsByPhone(phoneNumbers []string) (int64, error) {
	var removed int64
	for _, number := range phoneNumbers {
		result, err := s.q.Exec(`DELETE FROM contacts WHERE phone_number = ?`, number)
		if err != nil {
			return removed, fmt.Errorf("delete contact %q: %w", number, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// DeleteContact removes one contact by id.
func (s *Store) DeleteContact(id int64) error {
	result, err := s.q.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete contact %d: %w", id, err)
	}
	return requireAffected(result)
}

// ListContacts returns every contact ordered by name.
func (s *Store) ListContacts() ([]models.Contact, error) {
	rows, err := s.q.Query(
		`SELECT id, phone_number, id_matcher, name, contact_type,
			color, color_dark, color_light, color_accent
		FROM contacts ORDER BY name ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]models.Contact, 0)
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(
			&c.ID,
			&c.PhoneNumber,
			&c.IDMatcher,
			&c.Name,
			&c.Type,
			&c.Colors.Color,
			&c.Colors.ColorDark,
			&c.Colors.ColorLight,
			&c.Colors.ColorAccent,
		); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

// CountContacts returns the number of stored contacts.
func (s *Store) CountContacts() (int, error) {
	return s.count("contacts")
}
