// Package services provides the service registry shared by the remedyd
// daemon and the remedyctl CLI.
//
// Build populates a registry from configuration: store, classifier,
// handler registry, pipeline, batch aggregator and sweeper.
package services
