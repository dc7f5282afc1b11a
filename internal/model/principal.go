package model

import "time"

// Role names accepted in the `principals.role` column and carried in
// access-token claims.  ADMIN is never self-assignable at registration.
const (
    RoleFamily    = "FAMILY"
    RoleCompanion = "COMPANION"
    RoleAdmin     = "ADMIN"
)

// Principal represents an identity record as stored in the
// `principals` table.  Each field corresponds to a column in the
// database.  Principals are never physically deleted; IsActive
// implements the soft states.  The plaintext password never appears
// here — only its bcrypt hash.
//
// Fields:
//  ID            – primary key identifier of the principal.
//  Email         – unique, lowercased email address.
//  PasswordHash  – bcrypt hashed password.
//  Role          – role name (FAMILY, COMPANION or ADMIN).
//  EmailVerified – whether the email-verification flow completed.
//  IsActive      – whether the account is active.
//  CreatedAt     – timestamp of creation.
//  UpdatedAt     – timestamp of last update.
type Principal struct {
    ID            uint64    // principals.id
    Email         string    // principals.email
    PasswordHash  string    // principals.password_hash
    Role          string    // principals.role
    EmailVerified bool      // principals.email_verified
    IsActive      bool      // principals.is_active
    CreatedAt     time.Time // principals.created_at
    UpdatedAt     time.Time // principals.updated_at
}

// ValidRole reports whether role is one of the fixed role names.
func ValidRole(role string) bool {
    switch role {
    case RoleFamily, RoleCompanion, RoleAdmin:
        return true
    }
    return false
}
