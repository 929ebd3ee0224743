// Package speech converts accepted redemption text into audio artifacts and
// maintains the bounded rotating archive of synthesized files.
package speech

// Persona is the fixed voice profile applied to every synthesis call. It is
// built once at startup from configuration and never mutated afterwards, so it
// is safe to share across concurrent reads.
type Persona struct {
	VoiceID  string
	Volume   float64
	Pitch    float64
	Rate     float64
	WordWrap bool
	Emotion  string
}

// Locale derives the BCP 47 locale from the voice id (e.g. "fr-FR" from
// "fr-FR-HenriNeural").
func (p Persona) Locale() string {
	if len(p.VoiceID) < 5 {
		return p.VoiceID
	}
	return p.VoiceID[:5]
}
