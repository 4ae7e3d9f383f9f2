// Package server exposes the relay over HTTP.
//
// Every dispatch endpoint accepts a multipart form and answers a small
// JSON object. The route families mirror the three backends: /email/...,
// /discord/..., /slack/..., each with message, file, link and schedule
// variants.
package server
