// Copyright 2015 Tamás Demeter-Haludka
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Pulse is a web application framework

An application lives in a project directory: the environment (config.yml or .env), the configuration files under config/, the templates under resources/views/, the built frontend assets under public/assets/ and a writable storage/ directory. NewApp() loads all of them, and App.Server() builds the HTTP server with the recommended middlewares.

Routes are registered in two groups: the web routes (maintenance gate, redirecting logged in users away from the login pages), and the api routes under /api (rate limited). Further functionality comes from services (see the Service interface), which are started in the order listed in the register key of config/app.yml.

The framework contains APIs. These APIs are usually a middleware and a struct in the request context: Render(r), GetSession(r), GetDB(r), GetApp(r), LogVerbose(r).

Errors are reported by panicking with Fail() or MaybeFail(). The panic is recovered by the error handler middleware, which logs it, reports server errors to Sentry, and renders an error page or a JSON document.

The command line interface is in the console package, the executable in cmd/pulse.
*/
package pulse
