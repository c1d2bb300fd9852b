// Package model defines the entities handled by the coordination engine:
// requests, tasks, responders, resources and consumption records, together
// with their status machines and the error kinds shared by every component.
package model
