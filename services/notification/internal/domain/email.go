package domain

// Email is a plain-text message ready for delivery.
type Email struct {
	To      string
	Subject string
	Body    string
}
