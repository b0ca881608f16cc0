package shared

import "fmt"

// ReservationLockKey builds the redis key serialising the reservation
// critical section for one product in one warehouse.
func ReservationLockKey(companyID, warehouseID, productID int64) string {
	return fmt.Sprintf("inventory:reserve:%d:%d:%d:lock", companyID, warehouseID, productID)
}

// CountSessionLockKey builds the redis key guarding count session completion.
func CountSessionLockKey(sessionID int64) string {
	return fmt.Sprintf("inventory:count:%d:lock", sessionID)
}
