// internal/repository/lead_repository.go
package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

type LeadRepositoryInterface interface {
	Create(l *model.Lead) error
	GetByID(id string) (*model.Lead, error)
	FindByPhone(tenantID, phone string) (*model.Lead, error)
	FindByEmail(tenantID, email string) (*model.Lead, error)
}

type LeadRepository struct {
	DB *sql.DB
}

func (r *LeadRepository) Create(l *model.Lead) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = model.LeadNew
	}
	l.CreatedAt = time.Now()
	l.UpdatedAt = l.CreatedAt

	query := `
        INSERT INTO leads (id, tenant_id, name, phone, email, source, status, notes, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `
	_, err := r.DB.Exec(query,
		l.ID, l.TenantID, l.Name, l.Phone, l.Email, l.Source, l.Status, l.Notes, l.CreatedAt, l.UpdatedAt)
	return err
}

const leadColumns = `id, tenant_id, name, phone, email, source, status, notes, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*model.Lead, error) {
	var l model.Lead
	err := row.Scan(&l.ID, &l.TenantID, &l.Name, &l.Phone, &l.Email, &l.Source, &l.Status, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LeadRepository) GetByID(id string) (*model.Lead, error) {
	l, err := scanLead(r.DB.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE id=$1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (r *LeadRepository) FindByPhone(tenantID, phone string) (*model.Lead, error) {
	if phone == "" {
		return nil, nil
	}
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id=$1 AND phone=$2 ORDER BY created_at ASC LIMIT 1`
	l, err := scanLead(r.DB.QueryRow(query, tenantID, phone))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (r *LeadRepository) FindByEmail(tenantID, email string) (*model.Lead, error) {
	if email == "" {
		return nil, nil
	}
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id=$1 AND lower(email)=lower($2) ORDER BY created_at ASC LIMIT 1`
	l, err := scanLead(r.DB.QueryRow(query, tenantID, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}
