// Package prompts contains the model instructions used by Aline: the
// head router, each handler, the guardrail classifiers and the job
// extractor.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation and can be validated by
// tests. Each prompt category gets its own file with an exported
// constant or a function that accepts the dynamic parts.
package prompts
