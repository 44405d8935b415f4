// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidPhone проверяет телефонный номер: необязательный ведущий «+» и от
// 7 до 15 цифр. Уникальность номера не проверяется.
func IsValidPhone(phone string) bool {
	if phone == "" {
		return false
	}

	digits := 0
	for i, ch := range phone {
		if ch == '+' && i == 0 {
			continue
		}
		if !unicode.IsDigit(ch) {
			return false
		}
		digits++
	}

	return digits >= 7 && digits <= 15
}

// IsValidSKU проверяет артикул товара: непустая строка из латинских букв,
// цифр и дефисов.
func IsValidSKU(sku string) bool {
	if sku == "" {
		return false
	}

	for _, ch := range sku {
		switch {
		case ch >= 'A' && ch <= 'Z':
		case ch >= 'a' && ch <= 'z':
		case ch >= '0' && ch <= '9':
		case ch == '-':
		default:
			return false
		}
	}

	return true
}
