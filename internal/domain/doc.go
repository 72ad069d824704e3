// Package domain contains the core business entities of the ingredient
// processing pipeline: the ingredient catalog and the processing task with
// its status lifecycle. It is independent of any storage or transport.
package domain
