package auth

import "time"

// Identity is an authenticable account. Handle is the unique login key and
// is matched exactly.
type Identity struct {
	ID           int64     `json:"id"`
	Handle       string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Company is a tenant. AdminIdentityID is zero until a founding admin is set.
type Company struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Address         string    `json:"address,omitempty"`
	AdminIdentityID int64     `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Membership grants an identity a role inside one company.
type Membership struct {
	IdentityID int64     `json:"identity_id"`
	CompanyID  int64     `json:"company_id"`
	Role       Role      `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
}

// Equipment belongs to exactly one company. Code is the external equipment
// identifier, unique per company.
type Equipment struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Code      string    `json:"equipment_id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SensorReading is an immutable measurement taken on a piece of equipment.
type SensorReading struct {
	ID          int64     `json:"id"`
	EquipmentID int64     `json:"equipment_id"`
	Timestamp   time.Time `json:"timestamp"`
	Value       float64   `json:"value"`
}

// Page bounds a listing query.
type Page struct {
	Limit  int
	Offset int
}

// RegisterRequest describes a new identity joining a company.
type RegisterRequest struct {
	Handle    string
	Name      string
	Secret    string
	CompanyID int64
	Role      Role
}

// FoundCompanyRequest bootstraps a company together with its founding admin.
type FoundCompanyRequest struct {
	Name        string
	Address     string
	AdminHandle string
	AdminName   string
	AdminSecret string
}
