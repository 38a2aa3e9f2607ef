// Package logfile reads historical sensor logs for replay.
//
// A log is a table whose first row names the columns. The columns ph,
// temperature_c, ultrasonic_cm and turbidity_ntu are required; timestamp
// is optional and carried through verbatim. Header matching ignores case
// and surrounding spaces, and column order is free.
//
// Supported formats are CSV (.csv) and Excel workbooks (.xlsx, first
// sheet). A blank cell reads as 0, which the server treats as a
// disconnected sensor. A cell that is not a number makes its row a
// RowError; the row is skipped and reading continues.
package logfile
