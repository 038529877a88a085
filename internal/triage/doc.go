// Package triage provides the business boundary for Sentra's sign-in triage.
// It defines the Engine (pure parse, score and threshold gate), the Service
// (mail polling, dedup, alert emission and disposition dispatch) and the
// metrics hooks shared between them.
package triage
