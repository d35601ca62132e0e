// Package docstore is a small document store on SQLite that executes
// mongo-shell style operations.
//
// It is the target-store adapter the engine drives in tests and in the CLI:
// collections with optional $jsonSchema validators, documents keyed by _id,
// and the shell calls changelogs use in practice:
//
//	db.createCollection('Orgs', { validator: { $jsonSchema: {...} } })
//	db.Orgs.insertOne({...}) / insertMany([...])
//	db.Orgs.updateOne(filter, { $set: {...}, $unset: {...} }) / updateMany
//	db.Orgs.deleteOne(filter) / deleteMany(filter)
//	db.Orgs.drop()
//
// Shell literals are decoded as YAML flow collections after a small
// normalisation pass (JS single-quoted strings, comments, trailing commas).
// Filters are equality on top-level fields; {} matches every document.
//
// All statements of one operation run in a single SQLite transaction.
package docstore
