package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 95.13, RoundTo(95.125, 2))
	assert.Equal(t, 95.12, RoundTo(95.1212, 2))
	assert.Equal(t, 100.0, RoundTo(99.999, 1))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "79991234567", DigitsOnly("+7 (999) 123-45-67"))
	assert.Equal(t, "", DigitsOnly("нет цифр"))
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+7 999 123-45-67", "9991234567"},
		{"8 (999) 123 45 67", "9991234567"},
		{"9991234567", "9991234567"},
		{"19991234567", "19991234567"}, // чужой код страны не трогаем
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizePhone(tc.in), "phone: %q", tc.in)
	}
}

func TestCardFragments(t *testing.T) {
	cases := []struct {
		in     string
		prefix string
		suffix string
	}{
		{"2202 02** **** 1234", "220202", "1234"},
		{"*1234", "", "1234"},
		{"2202 2063 1234 1234", "", "2202206312341234"}, // без маски весь номер - суффикс
		{"****", "", ""},
	}
	for _, tc := range cases {
		prefix, suffix := CardFragments(tc.in)
		assert.Equal(t, tc.prefix, prefix, "card: %q", tc.in)
		assert.Equal(t, tc.suffix, suffix, "card: %q", tc.in)
	}
}
