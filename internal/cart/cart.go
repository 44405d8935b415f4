// Package cart реализует агрегат корзины активной кассовой сессии.
package cart

import (
	"math"

	"github.com/mmeshcher/khatapos-system/internal/model"
)

// Line — строка корзины со снимком имени и цены товара на момент добавления.
type Line struct {
	ProductID  int64
	Name       string
	PriceCents int64
	Quantity   int64
}

// Cart хранит строки активной продажи, выбранного клиента и ставки скидки
// и налога. Корзина живёт в памяти одной кассовой сессии и не разделяется.
type Cart struct {
	lines        []Line
	customer     *model.Customer
	discountRate float64
	taxRate      float64
}

// New создаёт пустую корзину.
func New() *Cart {
	return &Cart{}
}

func (c *Cart) findLine(productID int64) int {
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// AddLine добавляет единицу товара в корзину. Возвращает false без каких-либо
// изменений, если товара нет на складе или добавление превысило бы остаток,
// известный на момент вызова.
func (c *Cart) AddLine(p *model.Product) bool {
	if p.Stock <= 0 {
		return false
	}

	i := c.findLine(p.ID)
	if i < 0 {
		c.lines = append(c.lines, Line{
			ProductID:  p.ID,
			Name:       p.Name,
			PriceCents: p.PriceCents,
			Quantity:   1,
		})
		return true
	}

	if c.lines[i].Quantity+1 > p.Stock {
		return false
	}
	c.lines[i].Quantity++
	return true
}

// SetLineQuantity устанавливает количество по строке. Количество больше
// остатка отклоняется без изменений; ноль и меньше удаляет строку.
func (c *Cart) SetLineQuantity(productID, quantity, stock int64) bool {
	i := c.findLine(productID)
	if i < 0 {
		return false
	}

	if quantity <= 0 {
		c.RemoveLine(productID)
		return true
	}

	if quantity > stock {
		return false
	}

	c.lines[i].Quantity = quantity
	return true
}

// RemoveLine удаляет строку товара из корзины, если она есть.
func (c *Cart) RemoveLine(productID int64) {
	i := c.findLine(productID)
	if i < 0 {
		return
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
}

// Lines возвращает копию строк корзины в порядке добавления.
func (c *Cart) Lines() []Line {
	res := make([]Line, len(c.lines))
	copy(res, c.lines)
	return res
}

// Empty сообщает, пуста ли корзина.
func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

// SetCustomer привязывает клиента к продаже; nil снимает привязку.
func (c *Cart) SetCustomer(cust *model.Customer) {
	c.customer = cust
}

// Customer возвращает привязанного к продаже клиента или nil.
func (c *Cart) Customer() *model.Customer {
	return c.customer
}

// SetDiscountRate устанавливает процент скидки, обрезая значение до [0,100].
func (c *Cart) SetDiscountRate(pct float64) {
	c.discountRate = clampRate(pct)
}

// SetTaxRate устанавливает процент налога, обрезая значение до [0,100].
func (c *Cart) SetTaxRate(pct float64) {
	c.taxRate = clampRate(pct)
}

// DiscountRate возвращает текущий процент скидки.
func (c *Cart) DiscountRate() float64 {
	return c.discountRate
}

// TaxRate возвращает текущий процент налога.
func (c *Cart) TaxRate() float64 {
	return c.taxRate
}

func clampRate(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Totals вычисляет суммы корзины. Функция чистая: скидка применяется к
// промежуточной сумме, налог считается от суммы уже за вычетом скидки.
// Результат пересчитывается при каждом вызове и нигде не кэшируется.
func (c *Cart) Totals() model.Totals {
	var subtotal int64
	for _, l := range c.lines {
		subtotal += l.PriceCents * l.Quantity
	}

	discount := int64(math.Round(float64(subtotal) * c.discountRate / 100))
	tax := int64(math.Round(float64(subtotal-discount) * c.taxRate / 100))

	return model.Totals{
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TaxCents:      tax,
		TotalCents:    subtotal - discount + tax,
	}
}

// Reset очищает корзину после успешной продажи или по явной команде:
// строки и клиент удаляются, ставки сбрасываются в ноль.
func (c *Cart) Reset() {
	c.lines = nil
	c.customer = nil
	c.discountRate = 0
	c.taxRate = 0
}
