// Package pipeline drives a release through its ordered stages, persisting
// state around every stage boundary so an interrupted run resumes where it
// stopped. Transient stage failures retry up to a configured ceiling;
// terminal failures halt the run with the failure recorded.
package pipeline
