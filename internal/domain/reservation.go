package domain

// StockLine — количество единиц одного товара, резервируемое под заказ.
type StockLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Validate проверяет, корректно ли заполнена строка резерва.
func (l StockLine) Validate() error {
	if l.ProductID == "" {
		return Validation(ErrProductNotFound, "producto requerido")
	}
	if l.Quantity < 1 {
		return Validation(ErrItemQtyInvalid, "")
	}
	return nil
}

// StockLinesFromItems строит строки резерва по позициям заказа.
// Позиции одного товара сливаются, чтобы условное списание видело полный объём.
func StockLinesFromItems(items []OrderItem) []StockLine {
	index := make(map[string]int, len(items))
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			lines[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(lines)
		lines = append(lines, StockLine{ProductID: item.ProductID, Name: item.Name, Quantity: item.Quantity})
	}
	return lines
}
