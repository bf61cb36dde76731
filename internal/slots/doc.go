// Package slots implements the weekly availability model.
//
// A day is split into 288 five-minute slots. A slot is busy (true) when the
// user has a class that overlaps it. For storage a day is packed into nine
// 32-bit blocks:
//
//	block i holds slots [32i, 32i+32)
//	bit j of block i is slot 32i+j (least significant bit = earliest slot)
//
// Weekdays are numbered 0=Monday through 6=Sunday. A day with no stored data
// is all-free.
package slots
