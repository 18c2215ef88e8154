package utils

import (
	"math"
	"strings"
	"unicode"
)

func RoundTo(n float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(n*pow) / pow
}

// DigitsOnly убирает из строки всё, кроме цифр.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone приводит телефон к 10 цифрам: убирает форматирование,
// у 11-значного номера с кодом страны (7/8) отбрасывает первую цифру.
func NormalizePhone(phone string) string {
	digits := DigitsOnly(phone)
	if len(digits) == 11 && (digits[0] == '7' || digits[0] == '8') {
		return digits[1:]
	}
	return digits
}

// CardFragments извлекает из маскированного номера карты видимые фрагменты:
// цифры до первой звёздочки и после последней. "2202 02** **** 1234" -> ("220202", "1234").
func CardFragments(masked string) (prefix, suffix string) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '*' {
			return r
		}
		return -1
	}, masked)

	first := strings.IndexRune(cleaned, '*')
	if first == -1 {
		// маски нет: считаем всё суффиксом, чтобы матчить по окончанию
		return "", cleaned
	}
	last := strings.LastIndexByte(cleaned, '*')

	return cleaned[:first], cleaned[last+1:]
}
