// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// MinPasswordLength is the minimum password length in characters.
const MinPasswordLength = 8

// PasswordSymbols is the punctuation set that satisfies the symbol rule.
const PasswordSymbols = "!@#$%^&*()-_=+[]{}|;:'\",.<>/?`~\\"

// PasswordRule identifies a violated password strength rule.
type PasswordRule string

// Password rules, in evaluation order.
const (
	RuleTooShort      PasswordRule = "too_short"
	RuleMissingUpper  PasswordRule = "missing_upper"
	RuleMissingLower  PasswordRule = "missing_lower"
	RuleMissingDigit  PasswordRule = "missing_digit"
	RuleMissingSymbol PasswordRule = "missing_symbol"
)

var ruleMessages = map[PasswordRule]string{
	RuleTooShort:      fmt.Sprintf("password must be at least %d characters", MinPasswordLength),
	RuleMissingUpper:  "password must contain an uppercase letter",
	RuleMissingLower:  "password must contain a lowercase letter",
	RuleMissingDigit:  "password must contain a digit",
	RuleMissingSymbol: "password must contain a symbol",
}

// ValidatePasswordStrength returns nil when password satisfies every rule.
// Otherwise it returns an AUTH_WEAK_PASSWORD error for the first violated
// rule; PasswordRuleOf recovers the rule.
func ValidatePasswordStrength(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return weakPassword(RuleTooShort)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return weakPassword(RuleMissingUpper)
	case !lower:
		return weakPassword(RuleMissingLower)
	case !digit:
		return weakPassword(RuleMissingDigit)
	case !symbol:
		return weakPassword(RuleMissingSymbol)
	}
	return nil
}

// PasswordRuleOf returns the rule carried by an AUTH_WEAK_PASSWORD error.
func PasswordRuleOf(err error) (PasswordRule, bool) {
	if ErrorCode(err) != CodeWeakPassword {
		return "", false
	}
	v, ok := errorContext(err, "rule")
	if !ok {
		return "", false
	}
	rule, ok := v.(PasswordRule)
	return rule, ok
}

func weakPassword(rule PasswordRule) error {
	return oops.Code(CodeWeakPassword).
		With("rule", rule).
		Errorf("%s", ruleMessages[rule])
}
