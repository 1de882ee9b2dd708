// Package research finds source documents for a topic through the Exa search
// API. Results whose search snippet is empty can be filled from the page itself
// using readability extraction.
package research
