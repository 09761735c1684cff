// Package identity owns user accounts as seen by authentication: the User
// record, its login eligibility, the user store boundary and the
// CredentialVerifier that turns an email and password into a User.
//
// Profile CRUD lives elsewhere. This package only exposes what login,
// registration and refresh need.
package identity
