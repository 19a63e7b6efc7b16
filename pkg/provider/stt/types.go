package stt

// KeywordBoost represents a keyword to boost in STT recognition.
// Used to improve recognition of cast names ("Markowitz", "Antonelli").
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
