// Package room deriva el identificador canonico de una conversacion entre dos participantes.
package room

import (
	"fmt"
	"strings"

	"talentchat/internal/domain"
)

// Delimiter separa las dos identidades dentro de un room id canonico.
// Ninguna identidad valida puede contenerlo.
const Delimiter = "|"

// LegacyDelimiters son los separadores usados por ids historicos.
var LegacyDelimiters = []string{"-", "_"}

// NormalizeIdentity recorta espacios y pasa a minusculas.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// ValidateIdentity rechaza identidades vacias o que contengan el delimitador reservado.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("%w: empty identity", domain.ErrValidation)
	}
	if strings.Contains(identity, Delimiter) {
		return fmt.Errorf("%w: identity contains reserved delimiter", domain.ErrValidation)
	}
	if strings.IndexFunc(identity, isSpace) >= 0 {
		return fmt.Errorf("%w: identity contains whitespace", domain.ErrValidation)
	}
	return nil
}

// Canonicalize devuelve el room id de la pareja {a, b}; Canonicalize(a, b) == Canonicalize(b, a).
func Canonicalize(a, b string) (string, error) {
	a = NormalizeIdentity(a)
	b = NormalizeIdentity(b)
	if err := ValidateIdentity(a); err != nil {
		return "", err
	}
	if err := ValidateIdentity(b); err != nil {
		return "", err
	}
	if a == b {
		return "", fmt.Errorf("%w: participants must differ", domain.ErrValidation)
	}
	if b < a {
		a, b = b, a
	}
	return a + Delimiter + b, nil
}

// Participants separa un room id canonico en sus dos mitades.
func Participants(roomID string) (string, string, error) {
	parts := strings.Split(roomID, Delimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
		return "", "", fmt.Errorf("%w: %q", domain.ErrMalformedRoomID, roomID)
	}
	return parts[0], parts[1], nil
}

// ExtractCounterpart devuelve la mitad del room id que no es self.
func ExtractCounterpart(roomID, self string) (string, error) {
	a, b, err := Participants(roomID)
	if err != nil {
		return "", err
	}
	self = NormalizeIdentity(self)
	switch self {
	case a:
		return b, nil
	case b:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q is not a participant of %q", domain.ErrMalformedRoomID, self, roomID)
	}
}

// IsParticipant es el hook de autorizacion: identity aparece en el room id.
func IsParticipant(roomID, identity string) bool {
	_, err := ExtractCounterpart(roomID, identity)
	return err == nil
}

// IsCanonical indica si roomID ya esta en su forma canonica.
func IsCanonical(roomID string) bool {
	a, b, err := Participants(roomID)
	if err != nil {
		return false
	}
	canonical, err := Canonicalize(a, b)
	return err == nil && canonical == roomID
}

// DecodeLegacy recupera los participantes de un id historico: separado por "-" o "_",
// o canonico pero con los participantes en orden inverso.
func DecodeLegacy(roomID string) (string, string, error) {
	if strings.Contains(roomID, Delimiter) {
		a, b, err := Participants(roomID)
		if err != nil {
			return "", "", err
		}
		return NormalizeIdentity(a), NormalizeIdentity(b), nil
	}

	type split struct{ a, b string }
	var candidates, emailCandidates []split
	for i := 0; i < len(roomID); i++ {
		if !isLegacyDelimiter(roomID[i]) {
			continue
		}
		a := NormalizeIdentity(roomID[:i])
		b := NormalizeIdentity(roomID[i+1:])
		if ValidateIdentity(a) != nil || ValidateIdentity(b) != nil || a == b {
			continue
		}
		candidates = append(candidates, split{a, b})
		if looksLikeEmail(a) && looksLikeEmail(b) {
			emailCandidates = append(emailCandidates, split{a, b})
		}
	}

	switch {
	case len(emailCandidates) == 1:
		return emailCandidates[0].a, emailCandidates[0].b, nil
	case len(emailCandidates) == 0 && len(candidates) == 1:
		return candidates[0].a, candidates[0].b, nil
	case len(candidates) == 0:
		return "", "", fmt.Errorf("%w: %q has no legacy delimiter", domain.ErrMalformedRoomID, roomID)
	default:
		return "", "", fmt.Errorf("%w: %q splits ambiguously", domain.ErrMalformedRoomID, roomID)
	}
}

func isLegacyDelimiter(c byte) bool {
	for _, d := range LegacyDelimiters {
		if d[0] == c {
			return true
		}
	}
	return false
}

// looksLikeEmail: exactamente una arroba y un hostname con al menos un punto.
// Cada label es [a-z0-9-], no vacio y sin "-" en los extremos.
func looksLikeEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	if at <= 0 || at != strings.LastIndexByte(s, '@') {
		return false
	}
	labels := strings.Split(s[at+1:], ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
