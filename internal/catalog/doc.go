// Package catalog loads the site model: device models with their register
// maps, device instances, virtual devices, alert and control rules,
// schedules and constraints.
//
// Everything is validated and compiled once. A Catalog never changes after
// Load; reloading means restarting the components that use it.
package catalog
