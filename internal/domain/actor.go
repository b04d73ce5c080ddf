package domain

// Role — роль пользователя платформы.
type Role string

const (
	RoleClient      Role = "client"
	RoleDistributor Role = "distributor"
	RoleAdmin       Role = "admin"
)

// Valid сообщает, известна ли роль.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleDistributor, RoleAdmin:
		return true
	default:
		return false
	}
}

// Actor — идентичность, от имени которой выполняется операция.
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin сообщает, что актор — администратор.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Anonymous сообщает, что идентичность не передана.
func (a Actor) Anonymous() bool { return a.UserID == "" }

// CanAccess разрешает доступ к заказу владельцу и администратору.
func (a Actor) CanAccess(order Order) bool {
	if a.Anonymous() {
		return false
	}
	return a.IsAdmin() || order.UserID == a.UserID
}
