package usecase

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	MinPasswordLength = 4
	MaxPasswordLength = 128
)

// ErrNoCharacterClass は文字種が1つも選択されていない場合のエラー。
var ErrNoCharacterClass = errors.New("at least one character type must be selected")

// GeneratorOptions はパスワード生成の条件。
type GeneratorOptions struct {
	Length           int
	Uppercase        bool
	Lowercase        bool
	Numbers          bool
	Symbols          bool
	ExcludeAmbiguous bool
}

// DefaultGeneratorOptions は既定の生成条件を返す。
func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{Length: 20, Uppercase: true, Lowercase: true, Numbers: true, Symbols: true}
}

// GeneratePassword は選択された各文字種を最低1文字含むパスワードを生成する。
func GeneratePassword(opts GeneratorOptions) (string, error) {
	if opts.Length < MinPasswordLength || opts.Length > MaxPasswordLength {
		return "", fmt.Errorf("password length must be between %d and %d", MinPasswordLength, MaxPasswordLength)
	}

	var classes []string
	if opts.Uppercase {
		classes = append(classes, stripAmbiguous(upperChars, "OI", opts.ExcludeAmbiguous))
	}
	if opts.Lowercase {
		classes = append(classes, stripAmbiguous(lowerChars, "l", opts.ExcludeAmbiguous))
	}
	if opts.Numbers {
		classes = append(classes, stripAmbiguous(digitChars, "01", opts.ExcludeAmbiguous))
	}
	if opts.Symbols {
		classes = append(classes, symbolChars)
	}
	if len(classes) == 0 {
		return "", ErrNoCharacterClass
	}

	charset := strings.Join(classes, "")
	out := make([]byte, 0, opts.Length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < opts.Length {
		c, err := randomChar(charset)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates
	for i := len(out) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func stripAmbiguous(chars, ambiguous string, exclude bool) string {
	if !exclude {
		return chars
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(ambiguous, r) {
			return -1
		}
		return r
	}, chars)
}

func randomChar(charset string) (byte, error) {
	i, err := randomInt(len(charset))
	if err != nil {
		return 0, err
	}
	return charset[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("reading random: %w", err)
	}
	return int(v.Int64()), nil
}

// Strength はパスワード強度の評価結果。
type Strength struct {
	Score int
	Label string
}

var strengthLabels = []string{"Very Weak", "Weak", "Medium", "Strong", "Very Strong"}

// EvaluateStrength は長さと文字種から0〜4の強度を評価する。
func EvaluateStrength(password string) Strength {
	score := 0
	n := len([]rune(password))
	for _, threshold := range []int{8, 12, 16} {
		if n >= threshold {
			score++
		}
	}

	var upper, lower, digit, other bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			other = true
		}
	}
	if upper && lower {
		score++
	}
	if digit {
		score++
	}
	if other {
		score++
	}

	score = score * 4 / 6
	if score > 4 {
		score = 4
	}
	return Strength{Score: score, Label: strengthLabels[score]}
}
