// Package domain contains the core banking entities, value objects, and
// domain rules of the application: accounts with their non-negative balance
// invariant and customer risk assessments. It is independent of any specific
// infrastructure or delivery mechanism.
package domain
