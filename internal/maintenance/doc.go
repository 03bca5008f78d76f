// Package maintenance schedules periodic upkeep such as message ledger pruning.
package maintenance
