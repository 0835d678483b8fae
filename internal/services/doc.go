// Package services contains the business logic between the HTTP
// transport and the license store: the license lifecycle engine
// (issue, validate, activate, deactivate) and the health service.
package services
