// Package password implements the password policy applied on registration and password changes.
package password

import (
	"bufio"
	"bytes"
	"compress/gzip"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	MinLength = 8
	MaxLength = 128

	minCharClasses = 3
	maxSimilarity  = .7
)

var (
	textTooShort   = fmt.Sprintf("password must contain at least %d characters", MinLength)
	textTooLong    = fmt.Sprintf("password must contain at most %d characters", MaxLength)
	textCommon     = "password is too common"
	textAllDigits  = "password cannot be entirely numeric"
	textAllLetters = "password cannot contain only letters"
	textRepeated   = "password cannot be a single repeated character"
	textWeakPrefix = "password cannot start with a common word"
	textComplexity = fmt.Sprintf(
		"password must contain at least %d of: lowercase letters, uppercase letters, digits, special characters",
		minCharClasses,
	)
	textSimilar = "password cannot be similar to user attributes"

	weakPrefixes = []string{"admin", "test", "password", "student", "teacher", "qwerty", "letmein", "welcome"}

	//go:embed common-passwords.txt.gz
	commonPasswordsGz []byte
	commonPasswords   = loadCommonPasswords(commonPasswordsGz)
)

// Result is the verdict of the policy. Reason is empty when Valid.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func reject(reason string) Result { return Result{Reason: reason} }

func loadCommonPasswords(data []byte) []string {
	pwds := make([]string, 0, 256)
	gzRdr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		panic(fmt.Sprintf("password: reading common passwords: %v", err))
	}
	scanner := bufio.NewScanner(gzRdr)
	for scanner.Scan() {
		if pwd := strings.ToLower(strings.TrimSpace(scanner.Text())); pwd != "" {
			pwds = append(pwds, pwd)
		}
	}
	if err = scanner.Err(); err != nil {
		panic(fmt.Sprintf("password: reading common passwords: %v", err))
	}
	sort.Strings(pwds)
	return pwds
}

// Validate applies the policy to pwd. Checks run in order and the first failure wins:
// - length: 8..128 characters
// - not in the common passwords list (case-insensitive)
// - no weak pattern: all digits, all letters, one repeated character, common word prefix
// - at least 3 character classes out of lower, upper, digit, special
func Validate(pwd string) Result {
	n := utf8.RuneCountInString(pwd)
	if n < MinLength {
		return reject(textTooShort)
	}
	if n > MaxLength {
		return reject(textTooLong)
	}

	lpwd := strings.ToLower(pwd)
	if isCommon(lpwd) {
		return reject(textCommon)
	}

	if reason := weakPattern(pwd, lpwd); reason != "" {
		return reject(reason)
	}

	if classCount(pwd) < minCharClasses {
		return reject(textComplexity)
	}
	return Result{Valid: true}
}

// ValidateFor applies Validate, then rejects passwords too similar to the given user attributes.
func ValidateFor(pwd string, attrs ...string) Result {
	if res := Validate(pwd); !res.Valid {
		return res
	}
	lpwd := strings.ToLower(pwd)
	for _, attr := range attrs {
		attr = strings.ToLower(strings.TrimSpace(attr))
		if i := strings.IndexByte(attr, '@'); i > 0 {
			attr = attr[:i] // email local part
		}
		if attr == "" {
			continue
		}
		if similarity(lpwd, attr) >= maxSimilarity {
			return reject(textSimilar)
		}
	}
	return Result{Valid: true}
}

func isCommon(lpwd string) bool {
	idx := sort.SearchStrings(commonPasswords, lpwd)
	return idx < len(commonPasswords) && commonPasswords[idx] == lpwd
}

func weakPattern(pwd, lpwd string) string {
	var digits, letters int
	first, _ := utf8.DecodeRuneInString(pwd)
	repeated := true
	for _, char := range pwd {
		if unicode.IsDigit(char) {
			digits++
		}
		if unicode.IsLetter(char) {
			letters++
		}
		if char != first {
			repeated = false
		}
	}
	n := utf8.RuneCountInString(pwd)

	switch {
	case digits == n:
		return textAllDigits
	case letters == n:
		return textAllLetters
	case repeated:
		return textRepeated
	}
	for _, prefix := range weakPrefixes {
		if strings.HasPrefix(lpwd, prefix) {
			return textWeakPrefix
		}
	}
	return ""
}

type classes struct {
	lower, upper, digit, special bool
}

func charClasses(pwd string) classes {
	var cls classes
	for _, char := range pwd {
		switch {
		case unicode.IsLower(char):
			cls.lower = true
		case unicode.IsUpper(char):
			cls.upper = true
		case unicode.IsDigit(char):
			cls.digit = true
		default:
			cls.special = true
		}
	}
	return cls
}

func (cls classes) count() int {
	var n int
	for _, has := range []bool{cls.lower, cls.upper, cls.digit, cls.special} {
		if has {
			n++
		}
	}
	return n
}

func classCount(pwd string) int { return charClasses(pwd).count() }

func similarity(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).QuickRatio()
}

// Strength scores pwd from 0 to 100. It is informational and plays no part in Validate.
func Strength(pwd string) int {
	n := utf8.RuneCountInString(pwd)
	if n == 0 {
		return 0
	}

	score := n * 4
	if score > 40 {
		score = 40
	}
	score += classCount(pwd) * 15

	unique := make(map[rune]struct{}, n)
	for _, char := range pwd {
		unique[char] = struct{}{}
	}
	bonus := len(unique) * 2
	if bonus > 20 {
		bonus = 20
	}
	score += bonus

	if score > 100 {
		score = 100
	}
	return score
}

// Validator integration

const policyTag = "pwdpolicy"

// RegisterValidator registers the `pwdpolicy` tag, reporting the policy's reason as the error message.
func RegisterValidator(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(policyTag, func(fl validator.FieldLevel) bool {
		return Validate(fl.Field().String()).Valid
	})
	_ = validate.RegisterTranslation(
		policyTag, translator,
		func(ut.Translator) error { return nil },
		func(_ ut.Translator, fe validator.FieldError) string {
			if pwd, ok := fe.Value().(string); ok {
				return Validate(pwd).Reason
			}
			return textComplexity
		},
	)
}
