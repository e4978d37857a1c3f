// Command swarmenc is the operator CLI: it runs worker pools, submits
// projects, and reports coordinator status.
package main
