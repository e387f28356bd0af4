// Package effect defines the declarative building blocks of flowgo workflows:
// the Effect descriptor tree, the ordered execution Context, the explicit
// patch-or-value Result, and the error taxonomy shared by the engine and the
// coordination layer.
//
// Effects are immutable descriptions of work. They do nothing by themselves;
// the engine package interprets them. Descriptors nest arbitrarily, so a
// workflow is just a value that can be built in code or decoded from YAML.
package effect
