//go:generate go run github.com/swaggo/swag/v2/cmd/swag init --parseInternal --outputTypes json -g openapi.go -o .
package internal

// @title         bookinfo api
// @version       1.0
// @description   A book-metadata aggregation service that fans title/ISBN/author
// @description   lookups out across several upstream providers and streams
// @description   progress for long-running batch and scan jobs.
//
// @contact.url   https://github.com/blampe/bookinfo
//
// @license.name  GPLv3
// @license.url   https://www.gnu.org/licenses/gpl-3.0.en.html
//
// @servers       api.bookinfo.example
