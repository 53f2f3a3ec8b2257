package model

import (
	"github.com/google/uuid"
)

// Role is the capability an authenticated user holds in the clinic.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleDoctor        Role = "doctor"
	RoleNurse         Role = "nurse"
	RolePharmacist    Role = "pharmacist"
	RoleLabTechnician Role = "lab_technician"
	RolePatient       Role = "patient"
)

// Clinical reports whether the role may own a calendar and order clinical work.
func (r Role) Clinical() bool {
	return r == RoleDoctor || r == RoleAdmin
}

// Caller is the already-authenticated identity performing an operation.
type Caller struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

// User is a staff member or practitioner from the identity directory.
type User struct {
	Base
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	Email     string `json:"email" db:"email"`
	Role      Role   `json:"role" db:"role"`
	IsActive  bool   `json:"is_active" db:"is_active"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// Patient is read-only reference data for this core.
type Patient struct {
	Base
	UserID    *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	FirstName string     `json:"first_name" db:"first_name"`
	LastName  string     `json:"last_name" db:"last_name"`
	Email     string     `json:"email" db:"email"`
	Phone     string     `json:"phone" db:"phone"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Pharmacy is a dispensing partner prescriptions can be sent to.
type Pharmacy struct {
	Base
	Name     string `json:"name" db:"name"`
	Address  string `json:"address" db:"address"`
	Phone    string `json:"phone" db:"phone"`
	Email    string `json:"email" db:"email"`
	IsActive bool   `json:"is_active" db:"is_active"`
}

// Laboratory is an external lab lab orders can be routed to.
type Laboratory struct {
	Base
	Name     string `json:"name" db:"name"`
	Address  string `json:"address" db:"address"`
	Phone    string `json:"phone" db:"phone"`
	Email    string `json:"email" db:"email"`
	IsActive bool   `json:"is_active" db:"is_active"`
}
