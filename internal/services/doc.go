// Package services holds the application service layer between transport
// and the core components. Services validate caller input, translate it to
// coordinator/engine/store calls and shape the responses.
package services
