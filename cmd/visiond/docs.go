package main

// General API documentation for swaggo; the rendered OpenAPI document lives in
// internal/docs and is served at /swagger/ in builds tagged swagger.
//
// @title           visiond API
// @version         1.0
// @description     Cog-style prediction API in front of a supervised ollama vision backend.
//
// @BasePath  /
//
// @schemes http
