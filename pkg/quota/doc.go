// Package quota resolves per-org limits. An org's override row may set
// any subset of fields; unset fields inherit the system defaults, and a
// missing row yields the defaults wholesale.
package quota
