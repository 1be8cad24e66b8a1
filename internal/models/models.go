package models

import (
	"fmt"
	"strings"
	"time"
)

// AccountKind distinguishes private persons from companies
type AccountKind string

const (
	AccountPerson  AccountKind = "person"
	AccountCompany AccountKind = "company"
)

func (k AccountKind) Valid() bool {
	return k == AccountPerson || k == AccountCompany
}

// User represents an account known to the identity layer
type User struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	Kind         AccountKind `json:"kind"`
	PasswordHash string      `json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Company holds the registration data of a company account
type Company struct {
	Name    string `json:"name"`
	ICO     string `json:"ico,omitempty"`
	DIC     string `json:"dic,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Profile is the public and billing record of a user
type Profile struct {
	UserID              string      `json:"user_id"`
	Name                string      `json:"name"`
	Email               string      `json:"email"`
	Kind                AccountKind `json:"kind"`
	Balance             int64       `json:"balance"`
	FirstName           string      `json:"first_name,omitempty"`
	LastName            string      `json:"last_name,omitempty"`
	Phone               string      `json:"phone,omitempty"`
	BirthDate           string      `json:"birth_date,omitempty"`
	Company             *Company    `json:"company,omitempty"`
	PushToken           *string     `json:"push_token,omitempty"`
	LastBalanceUpdate   *time.Time  `json:"last_balance_update,omitempty"`
	BalanceUpdateReason string      `json:"balance_update_reason,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

// Validate checks the fields every stored profile must carry
func (p *Profile) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("profile: user id is required")
	}
	if p.Email == "" {
		return fmt.Errorf("profile: email is required")
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("profile: unknown account kind %q", p.Kind)
	}
	if p.Kind == AccountCompany && (p.Company == nil || strings.TrimSpace(p.Company.Name) == "") {
		return fmt.Errorf("profile: company name is required")
	}
	return nil
}

// Public strips billing and device data
func (p Profile) Public() Profile {
	p.Balance = 0
	p.PushToken = nil
	p.LastBalanceUpdate = nil
	p.BalanceUpdateReason = ""
	return p
}

// Category is one of the fixed listing categories
type Category string

const (
	CategoryTechnical Category = "technical"
	CategoryIT        Category = "it"
	CategoryDesign    Category = "design"
	CategoryEducation Category = "education"
	CategoryHome      Category = "home"
	CategoryTransport Category = "transport"
)

var categories = map[Category]bool{
	CategoryTechnical: true,
	CategoryIT:        true,
	CategoryDesign:    true,
	CategoryEducation: true,
	CategoryHome:      true,
	CategoryTransport: true,
}

func (c Category) Valid() bool { return categories[c] }

// ListingStatus is the visibility state of a listing
type ListingStatus string

const (
	StatusActive   ListingStatus = "active"
	StatusInactive ListingStatus = "inactive"
	StatusPaused   ListingStatus = "paused"
)

func (s ListingStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive || s == StatusPaused
}

// Image is an uploaded listing picture
type Image struct {
	URL       string `json:"url"`
	IsPreview bool   `json:"is_preview"`
	Name      string `json:"name,omitempty"`
}

// Listing represents a single service offer
type Listing struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	OwnerEmail     string        `json:"owner_email,omitempty"`
	Title          string        `json:"title"`
	Category       Category      `json:"category"`
	Description    string        `json:"description"`
	Price          string        `json:"price,omitempty"`
	Location       string        `json:"location"`
	Status         ListingStatus `json:"status"`
	Images         []Image       `json:"images"`
	IsTop          bool          `json:"is_top"`
	TopPurchasedAt *time.Time    `json:"top_purchased_at,omitempty"`
	TopExpiresAt   *time.Time    `json:"top_expires_at,omitempty"`
	TopExpiredAt   *time.Time    `json:"top_expired_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Validate checks the required listing fields and the boost invariant
func (l *Listing) Validate() error {
	if l.OwnerID == "" {
		return fmt.Errorf("listing: owner id is required")
	}
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("listing: title is required")
	}
	if !l.Category.Valid() {
		return fmt.Errorf("listing: unknown category %q", l.Category)
	}
	if strings.TrimSpace(l.Description) == "" {
		return fmt.Errorf("listing: description is required")
	}
	if strings.TrimSpace(l.Location) == "" {
		return fmt.Errorf("listing: location is required")
	}
	if !l.Status.Valid() {
		return fmt.Errorf("listing: unknown status %q", l.Status)
	}
	if l.IsTop && l.TopExpiresAt == nil {
		return fmt.Errorf("listing: boosted listing without expiry")
	}
	return nil
}

// BoostExpired reports whether the listing carries a boost that ran out before now
func (l *Listing) BoostExpired(now time.Time) bool {
	return l.IsTop && l.TopExpiresAt != nil && now.After(*l.TopExpiresAt)
}

// MessageType is the payload kind of a message
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// LastMessage is the preview stored on a conversation
type LastMessage struct {
	Text     string      `json:"text"`
	SenderID string      `json:"sender_id"`
	Type     MessageType `json:"type"`
	At       time.Time   `json:"at"`
}

// Conversation is a two party thread, optionally about one listing
type Conversation struct {
	ID           string         `json:"id"`
	Participants [2]string      `json:"participants"`
	ListingID    string         `json:"listing_id,omitempty"`
	ListingTitle string         `json:"listing_title,omitempty"`
	LastMessage  *LastMessage   `json:"last_message,omitempty"`
	Unread       map[string]int `json:"unread"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// OrderedPair returns the two ids in the order conversations store them
func OrderedPair(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// HasParticipant reports whether userID takes part in the conversation
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Other returns the participant that is not userID
func (c *Conversation) Other(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Validate enforces the two distinct participants invariant
func (c *Conversation) Validate() error {
	if c.Participants[0] == "" || c.Participants[1] == "" {
		return fmt.Errorf("conversation: two participants are required")
	}
	if c.Participants[0] == c.Participants[1] {
		return fmt.Errorf("conversation: participants must be distinct")
	}
	if c.Participants[0] > c.Participants[1] {
		return fmt.Errorf("conversation: participants are not ordered")
	}
	return nil
}

// Message is a single immutable chat entry
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Type           MessageType `json:"type"`
	Text           string      `json:"text,omitempty"`
	ImageURL       string      `json:"image_url,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	Seq            int64       `json:"seq"`
}

// Preview is the text shown as the conversation's last message
func (m *Message) Preview() string {
	if m.Type == MessageImage {
		return "📷"
	}
	return m.Text
}

// Validate checks a message read from or written to the store
func (m *Message) Validate() error {
	if m.ConversationID == "" || m.SenderID == "" {
		return fmt.Errorf("message: conversation and sender are required")
	}
	switch m.Type {
	case MessageText:
		if m.Text == "" {
			return fmt.Errorf("message: text is required")
		}
	case MessageImage:
		if m.ImageURL == "" {
			return fmt.Errorf("message: image url is required")
		}
	default:
		return fmt.Errorf("message: unknown type %q", m.Type)
	}
	return nil
}
