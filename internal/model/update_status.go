package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type UpdateStatus int

const (
	NotAvailable UpdateStatus = iota
	Available
)

func (s UpdateStatus) String() string {
	switch s {
	case Available:
		return "Available"
	case NotAvailable:
		return "NotAvailable"
	}
	return fmt.Sprintf("UpdateStatus(%d)", int(s))
}

func ParseUpdateStatus(text string) (UpdateStatus, error) {
	switch text {
	case "Available":
		return Available, nil
	case "NotAvailable":
		return NotAvailable, nil
	}
	return NotAvailable, fmt.Errorf("unknown update status %q", text)
}

func (s UpdateStatus) MarshalText() ([]byte, error) {
	if s != Available && s != NotAvailable {
		return nil, fmt.Errorf("unknown update status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *UpdateStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseUpdateStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s UpdateStatus) MarshalJSON() ([]byte, error) {
	text, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

func (s *UpdateStatus) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(text))
}

// Value stores the status as its text form.
func (s UpdateStatus) Value() (driver.Value, error) {
	text, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(text), nil
}

func (s *UpdateStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	case nil:
		*s = NotAvailable
		return nil
	}
	return fmt.Errorf("cannot scan %T into UpdateStatus", src)
}
